package testutil

import (
	"context"
	"net/http"

	"entrypack/internal/platform/middleware"
	"entrypack/pkg/domain"
)

// WithTraveler adds an authenticated traveler ID to the request context.
// This simulates what the auth middleware would do for authenticated requests.
// If the travelerID is not a valid UUID, it will not be added to the context.
func WithTraveler(req *http.Request, travelerID string) *http.Request {
	if parsed, err := domain.ParseTravelerID(travelerID); err == nil {
		ctx := middleware.WithTravelerID(req.Context(), parsed.String())
		return req.WithContext(ctx)
	}
	return req
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
