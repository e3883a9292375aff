package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: entity does not exist in store
//   - ErrConflict: concurrent modification of the same record detected
//   - ErrInvalidState: entity in wrong state for requested operation
//   - ErrStaleWrite: a superseded save completed after a newer revision was persisted
//   - ErrIntegrity: attempt to mutate a frozen snapshot or revive a terminal pack;
//     callers must abort the operation rather than recover
//   - ErrUnavailable: backing store temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrStaleWrite   = errors.New("stale write")
	ErrIntegrity    = errors.New("integrity violation")
	ErrUnavailable  = errors.New("unavailable")
)
