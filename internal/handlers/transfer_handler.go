package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coopbank/backend/internal/services"
)

// TransferHandler exposes transfers, history queries and memo edits.
type TransferHandler struct {
	service   *services.TransferService
	validator *services.ValidationHelper
}

func NewTransferHandler(service *services.TransferService) *TransferHandler {
	return &TransferHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Transfer executes a client-initiated transfer between two accounts.
func (h *TransferHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	if _, ok := clientIDFrom(r); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Origin          string `json:"origin" validate:"required"`
		Destination     string `json:"destination" validate:"required"`
		Amount          int64  `json:"amount" validate:"required,gt=0"`
		OriginMemo      string `json:"originMemo"`
		DestinationMemo string `json:"destinationMemo"`
		Password        string `json:"password" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.TransferWithPassword(r.Context(), services.TransferRequest{
		OriginNumber:      req.Origin,
		DestinationNumber: req.Destination,
		Amount:            req.Amount,
		OriginMemo:        req.OriginMemo,
		DestinationMemo:   req.DestinationMemo,
	}, req.Password)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListHistory returns an account's transaction history, newest first,
// optionally filtered by label, movement kind and date range.
func (h *TransferHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID, err := strconv.Atoi(chi.URLParam(r, "accountId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	filter := services.HistoryFilter{
		Label: r.URL.Query().Get("label"),
		Kind:  r.URL.Query().Get("kind"),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			services.SendErrorResponse(w, "Invalid 'from' timestamp", http.StatusBadRequest, nil)
			return
		}
		filter.From = &t
	}
	if to := r.URL.Query().Get("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			services.SendErrorResponse(w, "Invalid 'to' timestamp", http.StatusBadRequest, nil)
			return
		}
		filter.To = &t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	history, err := h.service.ListHistory(r.Context(), clientID, accountID, filter)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transactions": history,
		"count":        len(history),
	})
}

// GetMemo returns a single history row's memo.
func (h *TransferHandler) GetMemo(w http.ResponseWriter, r *http.Request) {
	clientID, accountID, transactionID, ok := h.memoParams(w, r)
	if !ok {
		return
	}

	memo, err := h.service.GetMemo(r.Context(), clientID, accountID, transactionID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]*string{"memo": memo})
}

// SetMemo attaches or replaces a memo on a history row.
func (h *TransferHandler) SetMemo(w http.ResponseWriter, r *http.Request) {
	clientID, accountID, transactionID, ok := h.memoParams(w, r)
	if !ok {
		return
	}

	var req struct {
		Memo string `json:"memo" validate:"required,max=255"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.service.SetMemo(r.Context(), clientID, accountID, transactionID, req.Memo); err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Memo updated"})
}

// ClearMemo removes a memo from a history row.
func (h *TransferHandler) ClearMemo(w http.ResponseWriter, r *http.Request) {
	clientID, accountID, transactionID, ok := h.memoParams(w, r)
	if !ok {
		return
	}

	if err := h.service.ClearMemo(r.Context(), clientID, accountID, transactionID); err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Memo deleted"})
}

func (h *TransferHandler) memoParams(w http.ResponseWriter, r *http.Request) (clientID, accountID, transactionID int, ok bool) {
	clientID, ok = clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return 0, 0, 0, false
	}

	accountID, err := strconv.Atoi(chi.URLParam(r, "accountId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return 0, 0, 0, false
	}

	transactionID, err = strconv.Atoi(chi.URLParam(r, "txId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return 0, 0, 0, false
	}
	return clientID, accountID, transactionID, true
}
