package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"entrypack/internal/platform/middleware"
	"entrypack/internal/reconcile"
	"entrypack/internal/snapshot"
	"entrypack/pkg/domain"
	dErrors "entrypack/pkg/domain-errors"
)

// SnapshotHandler exposes the frozen-history surface: list, view, export,
// delete, audit trail, plus the explicit reconcile trigger the app fires on
// foreground.
type SnapshotHandler struct {
	engine   *snapshot.Engine
	resolver *reconcile.Resolver
	logger   *slog.Logger
}

func NewSnapshotHandler(engine *snapshot.Engine, resolver *reconcile.Resolver, logger *slog.Logger) *SnapshotHandler {
	return &SnapshotHandler{engine: engine, resolver: resolver, logger: logger}
}

// Register mounts the snapshot and reconcile routes.
func (h *SnapshotHandler) Register(r chi.Router) {
	r.Get("/packs/{destination}/{trip}/snapshots", h.handleListForPack)
	r.Post("/packs/{destination}/{trip}/reconcile", h.handleReconcile)
	r.Route("/snapshots/{snapshotID}", func(r chi.Router) {
		r.Get("/", h.handleView)
		r.Get("/export", h.handleExport)
		r.Get("/audit", h.handleAuditTrail)
		r.Delete("/", h.handleDelete)
	})
}

func (h *SnapshotHandler) packKey(r *http.Request) (domain.PackKey, error) {
	traveler, err := domain.ParseTravelerID(middleware.GetTravelerID(r.Context()))
	if err != nil {
		return domain.PackKey{}, dErrors.New(dErrors.CodeUnauthorized, "no authenticated traveler")
	}
	destination, err := domain.ParseDestinationID(chi.URLParam(r, "destination"))
	if err != nil {
		return domain.PackKey{}, err
	}
	trip, err := domain.ParseTripID(chi.URLParam(r, "trip"))
	if err != nil {
		return domain.PackKey{}, err
	}
	return domain.PackKey{Traveler: traveler, Destination: destination, Trip: trip}, nil
}

func (h *SnapshotHandler) snapshotID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "snapshotID"))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "malformed snapshot id")
	}
	return id, nil
}

// ownedSnapshotID resolves the snapshot ID and verifies the authenticated
// traveler owns its source pack. A foreign snapshot reads as not found so
// the route leaks nothing about other travelers' history.
func (h *SnapshotHandler) ownedSnapshotID(r *http.Request) (uuid.UUID, error) {
	id, err := h.snapshotID(r)
	if err != nil {
		return uuid.Nil, err
	}
	traveler, err := domain.ParseTravelerID(middleware.GetTravelerID(r.Context()))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeUnauthorized, "no authenticated traveler")
	}
	snap, err := h.engine.Describe(r.Context(), id)
	if err != nil {
		return uuid.Nil, err
	}
	if snap.SourcePack.Traveler != traveler {
		return uuid.Nil, dErrors.New(dErrors.CodeNotFound, "snapshot not found")
	}
	return id, nil
}

// trailOwner reads the source pack off the trail's created event. The trail
// outlives the snapshot record, so this also covers deleted snapshots.
func trailOwner(events []snapshot.AuditEvent) (domain.TravelerID, bool) {
	for _, event := range events {
		if event.Type != snapshot.EventCreated {
			continue
		}
		key, err := domain.ParsePackKey(event.Metadata["pack"])
		if err != nil {
			return domain.TravelerID{}, false
		}
		return key.Traveler, true
	}
	return domain.TravelerID{}, false
}

func (h *SnapshotHandler) handleListForPack(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snaps, err := h.engine.ListBySource(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *SnapshotHandler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.resolver.Reconcile(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *SnapshotHandler) handleView(w http.ResponseWriter, r *http.Request) {
	id, err := h.ownedSnapshotID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.engine.View(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *SnapshotHandler) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := h.ownedSnapshotID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	export, err := h.engine.Export(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *SnapshotHandler) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := h.snapshotID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	traveler, err := domain.ParseTravelerID(middleware.GetTravelerID(r.Context()))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated traveler"))
		return
	}
	events, err := h.engine.AuditTrail(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	// Ownership comes from the trail itself here, not the record: the trail
	// must stay readable by its owner after the snapshot is deleted.
	if owner, ok := trailOwner(events); !ok || owner != traveler {
		writeError(w, dErrors.New(dErrors.CodeNotFound, "snapshot not found"))
		return
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		eventType, err := snapshot.ParseEventType(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		filtered := make([]snapshot.AuditEvent, 0, len(events))
		for _, event := range events {
			if event.Type == eventType {
				filtered = append(filtered, event)
			}
		}
		events = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *SnapshotHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := h.ownedSnapshotID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.engine.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
