// Package snapshot freezes entry pack data into immutable, versioned
// records with an append-only audit trail. Nothing in here ever mutates a
// snapshot after Freeze returns; every accessor hands out copies, and the
// snapshot namespace is physically separate from the live pack stores so
// read-only access can be enforced below the application layer.
package snapshot

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"entrypack/internal/completion"
	"entrypack/internal/entrypack"
	"entrypack/pkg/domain"
	dErrors "entrypack/pkg/domain-errors"
)

// AssetRef is one copied photo in a snapshot's manifest. Missing marks a
// source asset that had disappeared by freeze time; the snapshot still
// freezes, with the marker standing in for the copy.
type AssetRef struct {
	FundItemID string    `json:"fundItemId"`
	Path       string    `json:"path,omitempty"`
	Missing    bool      `json:"missing,omitempty"`
	CopiedAt   time.Time `json:"copiedAt"`
}

// Snapshot is one immutable freeze of a pack. Version increases per source
// pack; two snapshots of the same pack never share a version.
type Snapshot struct {
	ID         uuid.UUID              `json:"snapshotId"`
	SourcePack domain.PackKey         `json:"sourcePackId"`
	Version    int                    `json:"version"`
	CreatedAt  time.Time              `json:"createdAt"`
	Reason     entrypack.FreezeReason `json:"reason"`

	Passport map[string]string    `json:"passport"`
	Personal map[string]string    `json:"personal"`
	Funds    []entrypack.FundItem `json:"funds"`
	Travel   map[string]string    `json:"travel"`

	LatestSubmission *entrypack.SubmissionAttempt             `json:"latestSuccessfulSubmission,omitempty"`
	Completeness     map[completion.Category]completion.State `json:"completenessIndicator"`
	PhotoManifest    []AssetRef                               `json:"photoManifest"`
}

// Clone deep-copies the snapshot; stores and accessors return clones only.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Passport = cloneMap(s.Passport)
	out.Personal = cloneMap(s.Personal)
	out.Travel = cloneMap(s.Travel)
	out.Funds = append([]entrypack.FundItem(nil), s.Funds...)
	out.PhotoManifest = append([]AssetRef(nil), s.PhotoManifest...)
	if s.LatestSubmission != nil {
		attempt := *s.LatestSubmission
		attempt.DocumentHandles = append([]string(nil), s.LatestSubmission.DocumentHandles...)
		out.LatestSubmission = &attempt
	}
	if s.Completeness != nil {
		completeness := make(map[completion.Category]completion.State, len(s.Completeness))
		for k, v := range s.Completeness {
			completeness[k] = v
		}
		out.Completeness = completeness
	}
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

// EventType classifies audit events on a snapshot.
type EventType string

const (
	EventCreated       EventType = "created"
	EventViewed        EventType = "viewed"
	EventStatusChanged EventType = "statusChanged"
	EventExported      EventType = "exported"
	EventDeleted       EventType = "deleted"
)

var validEventTypes = map[EventType]bool{
	EventCreated:       true,
	EventViewed:        true,
	EventStatusChanged: true,
	EventExported:      true,
	EventDeleted:       true,
}

// ParseEventType constructs an EventType from external input.
func ParseEventType(s string) (EventType, error) {
	t := EventType(strings.TrimSpace(s))
	if !validEventTypes[t] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown audit event type")
	}
	return t, nil
}

// AuditEvent is one append-only log line for a snapshot. Events are never
// edited, dropped, or summarized; a deleted snapshot's trail ends with a
// final deleted event and survives the snapshot itself.
type AuditEvent struct {
	SnapshotID uuid.UUID         `json:"snapshotId"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"eventType"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Export is the read model handed to the export collaborator: the frozen
// payloads plus manifest, detached from storage.
type Export struct {
	Snapshot Snapshot     `json:"snapshot"`
	Events   []AuditEvent `json:"auditTrail"`
}
