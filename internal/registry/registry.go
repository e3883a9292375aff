// Package registry is the multi-destination index: it answers "which packs
// does this traveler hold, and how far along is each" without ever mixing
// state across (traveler, destination, trip) keys.
package registry

import (
	"context"
	"sort"

	"entrypack/internal/entrypack"
	"entrypack/internal/window"
	"entrypack/pkg/domain"
)

// Entry is one pack summarized for listing: the record plus its derived
// presentation fields.
type Entry struct {
	Pack          entrypack.Pack        `json:"pack"`
	Window        window.Classification `json:"window"`
	DisplayStatus string                `json:"displayStatus"`
}

// Registry reads the durable store; it never mutates anything.
type Registry struct {
	store    entrypack.Store
	policies entrypack.PolicyProvider
	windows  window.Calculator
}

func New(store entrypack.Store, policies entrypack.PolicyProvider) *Registry {
	return &Registry{store: store, policies: policies}
}

// ListByTraveler returns every pack the traveler holds, newest activity
// first, each classified against its own destination policy.
func (r *Registry) ListByTraveler(ctx context.Context, traveler domain.TravelerID) ([]Entry, error) {
	packs, err := r.store.ListByTraveler(ctx, traveler)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(packs))
	for _, pack := range packs {
		entries = append(entries, r.entry(pack))
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Pack.LastUpdatedAt.After(entries[j].Pack.LastUpdatedAt)
	})
	return entries, nil
}

// Find returns one pack's listing entry.
func (r *Registry) Find(ctx context.Context, key domain.PackKey) (Entry, error) {
	pack, err := r.store.Find(ctx, key)
	if err != nil {
		return Entry{}, err
	}
	return r.entry(pack), nil
}

func (r *Registry) entry(pack entrypack.Pack) Entry {
	return Entry{
		Pack:          pack,
		Window:        r.windows.Classify(pack.ArrivalAt, r.policies(pack.Key.Destination)),
		DisplayStatus: pack.DisplayStatus(),
	}
}
