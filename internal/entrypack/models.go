package entrypack

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"entrypack/internal/completion"
	"entrypack/pkg/domain"
	dErrors "entrypack/pkg/domain-errors"
)

// Status is the pack lifecycle state. A pack exists from the first field
// edit and stays draft until every category is complete.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusReady      Status = "ready"
	StatusSubmitted  Status = "submitted"
	StatusSuperseded Status = "superseded"
	StatusExpired    Status = "expired"
	StatusArchived   Status = "archived"
)

var validStatuses = map[Status]bool{
	StatusDraft:      true,
	StatusReady:      true,
	StatusSubmitted:  true,
	StatusSuperseded: true,
	StatusExpired:    true,
	StatusArchived:   true,
}

// ParseStatus constructs a Status from external input.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !validStatuses[st] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown pack status")
	}
	return st, nil
}

// Terminal reports whether the status admits no further transitions.
// Terminal packs can only be read or copied into a new pack.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusArchived
}

func (s Status) String() string { return string(s) }

// AttemptResult is the outcome of one call to the document-issuing service.
type AttemptResult string

const (
	AttemptSuccess AttemptResult = "success"
	AttemptFailure AttemptResult = "failure"
)

// SubmissionAttempt records one submission outcome. Attempts are append-only:
// nothing ever mutates or removes one once recorded.
type SubmissionAttempt struct {
	ID              uuid.UUID     `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	Result          AttemptResult `json:"result"`
	ConfirmationID  string        `json:"confirmationId,omitempty"`
	DocumentHandles []string      `json:"documentHandles,omitempty"`
	ErrorDetail     string        `json:"errorDetail,omitempty"`
}

// FundItem is one entry in the funds collection.
type FundItem struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	PhotoPath string  `json:"photoPath,omitempty"`
}

// FreezeReason states why a snapshot was taken.
type FreezeReason string

const (
	FreezeCompleted FreezeReason = "completed"
	FreezeExpired   FreezeReason = "expired"
	FreezeCancelled FreezeReason = "cancelled"
)

func (r FreezeReason) String() string { return string(r) }

// FieldEdit is one scalar edit coming from the form layer.
type FieldEdit struct {
	Category completion.Category `json:"category"`
	Name     string              `json:"name"`
	Value    string              `json:"value"`
}

// SupersedeProposal is the pending half of the two-phase edit applied to a
// submitted pack. The edits are staged, not applied, until the traveler
// confirms that invalidating the issued documents is intended.
type SupersedeProposal struct {
	ID        uuid.UUID   `json:"id"`
	Edits     []FieldEdit `json:"edits"`
	FundAdds  []FundItem  `json:"fundAdds,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Pack is the full persisted record for one (traveler, destination, trip):
// the four category payloads, cached completion metrics, lifecycle status,
// and the append-only submission history. Both the cache and the durable
// store persist this exact shape.
type Pack struct {
	Key domain.PackKey `json:"key"`

	Passport map[string]string `json:"passport"`
	Personal map[string]string `json:"personal"`
	Funds    []FundItem        `json:"funds"`
	Travel   map[string]string `json:"travel"`

	// ArrivalAt mirrors the travel payload's arrival field, parsed once on
	// save so the window calculator never re-parses form input.
	ArrivalAt *time.Time `json:"arrivalAt,omitempty"`

	Metrics completion.Metrics `json:"completionMetrics"`
	Status  Status             `json:"status"`

	SubmissionHistory []SubmissionAttempt `json:"submissionHistory"`
	PendingSupersede  *SupersedeProposal  `json:"pendingSupersede,omitempty"`

	// Revision increases on every durable write. Stale saves carry an older
	// revision and are rejected instead of clobbering newer data.
	Revision      int64     `json:"revision"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// LatestSuccessfulSubmission returns the most recent successful attempt, or
// nil when none exists. Always derived from the history, never stored.
func (p *Pack) LatestSuccessfulSubmission() *SubmissionAttempt {
	for i := len(p.SubmissionHistory) - 1; i >= 0; i-- {
		if p.SubmissionHistory[i].Result == AttemptSuccess {
			attempt := p.SubmissionHistory[i]
			return &attempt
		}
	}
	return nil
}

// DisplayStatus is the presentation summary the form layer renders. Derived,
// never persisted.
func (p *Pack) DisplayStatus() string {
	switch p.Status {
	case StatusDraft:
		return "In progress"
	case StatusReady:
		return "Ready to submit"
	case StatusSubmitted:
		return "Submitted"
	case StatusSuperseded:
		return "Needs resubmission"
	case StatusExpired:
		return "Expired"
	case StatusArchived:
		return "Archived"
	}
	return string(p.Status)
}

// ScalarPayloads returns the three scalar category maps keyed by category,
// in the shape the completion engine scores.
func (p *Pack) ScalarPayloads() map[completion.Category]map[string]string {
	return map[completion.Category]map[string]string{
		completion.CategoryPassport: p.Passport,
		completion.CategoryPersonal: p.Personal,
		completion.CategoryTravel:   p.Travel,
	}
}

// Clone deep-copies the pack. Stores hand out clones so callers can never
// reach into shared state.
func (p Pack) Clone() Pack {
	out := p
	out.Passport = cloneMap(p.Passport)
	out.Personal = cloneMap(p.Personal)
	out.Travel = cloneMap(p.Travel)
	out.Funds = append([]FundItem(nil), p.Funds...)
	out.SubmissionHistory = cloneHistory(p.SubmissionHistory)
	if p.ArrivalAt != nil {
		t := *p.ArrivalAt
		out.ArrivalAt = &t
	}
	if p.PendingSupersede != nil {
		prop := *p.PendingSupersede
		prop.Edits = append([]FieldEdit(nil), p.PendingSupersede.Edits...)
		prop.FundAdds = append([]FundItem(nil), p.PendingSupersede.FundAdds...)
		out.PendingSupersede = &prop
	}
	out.Metrics = cloneMetrics(p.Metrics)
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneHistory(history []SubmissionAttempt) []SubmissionAttempt {
	if history == nil {
		return nil
	}
	out := make([]SubmissionAttempt, len(history))
	for i, a := range history {
		out[i] = a
		out[i].DocumentHandles = append([]string(nil), a.DocumentHandles...)
	}
	return out
}

func cloneMetrics(m completion.Metrics) completion.Metrics {
	if m.Categories == nil {
		return m
	}
	categories := make(map[completion.Category]completion.CategoryScore, len(m.Categories))
	for k, v := range m.Categories {
		categories[k] = v
	}
	return completion.Metrics{Categories: categories, Percent: m.Percent}
}
