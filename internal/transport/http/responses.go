package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "entrypack/pkg/domain-errors"
	"entrypack/pkg/platform/sentinel"
)

// writeJSON is the single success envelope.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses so every
// handler emits the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := dErrors.CodeOf(err)

	switch {
	case errors.Is(err, sentinel.ErrIntegrity):
		// Contract violation: reject outright.
		status = http.StatusConflict
		code = dErrors.CodeInvalidState
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
		code = dErrors.CodeNotFound
	case errors.Is(err, sentinel.ErrStaleWrite):
		status = http.StatusConflict
	case errors.Is(err, sentinel.ErrUnavailable):
		status = http.StatusServiceUnavailable
	default:
		switch code {
		case dErrors.CodeInvalidInput, dErrors.CodeBadRequest:
			status = http.StatusBadRequest
		case dErrors.CodeNotFound:
			status = http.StatusNotFound
		case dErrors.CodeInvalidState:
			status = http.StatusConflict
		case dErrors.CodeUnauthorized:
			status = http.StatusUnauthorized
		case dErrors.CodeTimeout:
			status = http.StatusGatewayTimeout
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": string(code),
	})
}
