package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"entrypack/internal/completion"
	"entrypack/internal/entrypack"
	"entrypack/internal/platform/middleware"
	"entrypack/internal/registry"
	"entrypack/pkg/domain"
	dErrors "entrypack/pkg/domain-errors"
)

// PackHandler is the thin HTTP layer over the pack state machine. It parses,
// delegates, renders; the rules live in the service.
type PackHandler struct {
	service  *entrypack.Service
	registry *registry.Registry
	logger   *slog.Logger
}

func NewPackHandler(service *entrypack.Service, reg *registry.Registry, logger *slog.Logger) *PackHandler {
	return &PackHandler{service: service, registry: reg, logger: logger}
}

// Register mounts the pack routes.
func (h *PackHandler) Register(r chi.Router) {
	r.Get("/packs", h.handleList)
	r.Route("/packs/{destination}/{trip}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/fields", h.handleSaveField)
		r.Post("/funds", h.handleAddFund)
		r.Delete("/funds/{itemID}", h.handleRemoveFund)
		r.Post("/flush", h.handleFlush)
		r.Post("/proposals", h.handlePropose)
		r.Post("/proposals/{proposalID}/confirm", h.handleConfirm)
		r.Delete("/proposals/{proposalID}", h.handleCancelProposal)
		r.Post("/submissions", h.handleRecordSubmission)
		r.Post("/archive", h.handleArchive)
		r.Post("/copy", h.handleCopy)
	})
}

// packKey assembles the pack key from the authenticated traveler plus URL
// params.
func (h *PackHandler) packKey(r *http.Request) (domain.PackKey, error) {
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

func (h *PackHandler) handleList(w http.ResponseWriter, r *http.Request) {
	traveler, err := domain.ParseTravelerID(middleware.GetTravelerID(r.Context()))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated traveler"))
		return
	}
	entries, err := h.registry.ListByTraveler(r.Context(), traveler)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"packs": entries})
}

func (h *PackHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.registry.Find(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type saveFieldRequest struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

func (h *PackHandler) handleSaveField(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req saveFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	category, err := completion.ParseCategory(req.Category)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.service.SaveField(r.Context(), key, entrypack.FieldEdit{
		Category: category,
		Name:     req.Name,
		Value:    req.Value,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PackHandler) handleAddFund(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var item entrypack.FundItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	result, err := h.service.AddFundItem(r.Context(), key, item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PackHandler) handleRemoveFund(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.service.RemoveFundItem(r.Context(), key, chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PackHandler) handleFlush(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.service.Flush(r.Context(), key); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type proposeRequest struct {
	Edits []saveFieldRequest   `json:"edits"`
	Funds []entrypack.FundItem `json:"funds,omitempty"`
}

func (h *PackHandler) handlePropose(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	edits := make([]entrypack.FieldEdit, 0, len(req.Edits))
	for _, e := range req.Edits {
		category, err := completion.ParseCategory(e.Category)
		if err != nil {
			writeError(w, err)
			return
		}
		edits = append(edits, entrypack.FieldEdit{Category: category, Name: e.Name, Value: e.Value})
	}
	proposal, err := h.service.ProposeEdit(r.Context(), key, edits, req.Funds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposal)
}

func (h *PackHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proposalID, err := uuid.Parse(chi.URLParam(r, "proposalID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed proposal id"))
		return
	}
	result, err := h.service.ConfirmSupersede(r.Context(), key, proposalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PackHandler) handleCancelProposal(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	proposalID, err := uuid.Parse(chi.URLParam(r, "proposalID"))
	if err != nil {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "malformed proposal id"))
		return
	}
	if err := h.service.CancelProposal(r.Context(), key, proposalID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submissionRequest struct {
	Result          string   `json:"result"`
	ConfirmationID  string   `json:"confirmationId,omitempty"`
	DocumentHandles []string `json:"documentHandles,omitempty"`
	ErrorDetail     string   `json:"errorDetail,omitempty"`
}

func (h *PackHandler) handleRecordSubmission(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	result, err := h.service.RecordSubmission(r.Context(), key, entrypack.SubmissionOutcome{
		Result:          entrypack.AttemptResult(req.Result),
		ConfirmationID:  req.ConfirmationID,
		DocumentHandles: req.DocumentHandles,
		ErrorDetail:     req.ErrorDetail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *PackHandler) handleArchive(w http.ResponseWriter, r *http.Request) {
	key, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := h.service.Archive(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type copyRequest struct {
	Destination string `json:"destination"`
	Trip        string `json:"trip"`
}

func (h *PackHandler) handleCopy(w http.ResponseWriter, r *http.Request) {
	src, err := h.packKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	destination, err := domain.ParseDestinationID(req.Destination)
	if err != nil {
		writeError(w, err)
		return
	}
	trip, err := domain.ParseTripID(req.Trip)
	if err != nil {
		writeError(w, err)
		return
	}
	dst := domain.PackKey{Traveler: src.Traveler, Destination: destination, Trip: trip}
	result, err := h.service.CopyAsTemplate(r.Context(), src, dst)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
