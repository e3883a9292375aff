// Package domain holds identifier value objects shared across the engine.
// IDs are parsed once at trust boundaries; internal code passes the typed
// values and never re-validates.
package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	dErrors "entrypack/pkg/domain-errors"
)

// TravelerID identifies the local profile owning a set of entry packs.
// Invariant: a valid, non-nil UUID.
type TravelerID uuid.UUID

// TripID identifies one planned trip. A traveler may hold several packs for
// the same destination across different trips.
// Invariant: a valid, non-nil UUID.
type TripID uuid.UUID

// DestinationID is the destination territory code (e.g. "HK", "TW", "JP").
// Invariant: 2-8 upper-case ASCII letters.
type DestinationID string

// ParseTravelerID constructs a TravelerID from external input.
func ParseTravelerID(s string) (TravelerID, error) {
	id, err := parseUUID(s, "traveler id")
	return TravelerID(id), err
}

// ParseTripID constructs a TripID from external input.
func ParseTripID(s string) (TripID, error) {
	id, err := parseUUID(s, "trip id")
	return TripID(id), err
}

// ParseDestinationID constructs a DestinationID from external input,
// normalizing to upper case.
func ParseDestinationID(s string) (DestinationID, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 2 || len(s) > 8 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "destination id must be 2-8 letters")
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "destination id must be letters only")
		}
	}
	return DestinationID(s), nil
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "malformed "+what)
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be the nil UUID")
	}
	return id, nil
}

func (id TravelerID) String() string { return uuid.UUID(id).String() }
func (id TripID) String() string     { return uuid.UUID(id).String() }

// Text marshalling keeps the UUID-backed IDs as canonical strings in JSON
// payloads instead of raw byte arrays.

func (id TravelerID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id TripID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *TravelerID) UnmarshalText(b []byte) error {
	parsed, err := ParseTravelerID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *TripID) UnmarshalText(b []byte) error {
	parsed, err := ParseTripID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (d DestinationID) String() string { return string(d) }

// PackKey addresses exactly one entry pack: one traveler, one destination,
// one trip. Every store keys pack records by this triple so concurrent trips
// to the same destination never share state.
type PackKey struct {
	Traveler    TravelerID
	Destination DestinationID
	Trip        TripID
}

// String renders the canonical store key form "traveler/destination/trip".
func (k PackKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Traveler, k.Destination, k.Trip)
}

// ParsePackKey parses the canonical triple form produced by String.
func ParsePackKey(s string) (PackKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return PackKey{}, dErrors.New(dErrors.CodeInvalidInput, "pack key must be traveler/destination/trip")
	}
	traveler, err := ParseTravelerID(parts[0])
	if err != nil {
		return PackKey{}, err
	}
	destination, err := ParseDestinationID(parts[1])
	if err != nil {
		return PackKey{}, err
	}
	trip, err := ParseTripID(parts[2])
	if err != nil {
		return PackKey{}, err
	}
	return PackKey{Traveler: traveler, Destination: destination, Trip: trip}, nil
}
