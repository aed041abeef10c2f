package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coopbank/backend/internal/scheduler"
	"github.com/coopbank/backend/internal/services"
)

// GroupHandler exposes group accounts: listing, detail, invitations,
// settings, funding-account assignment and the manual settlement trigger.
type GroupHandler struct {
	memberships *services.MembershipService
	runner      *scheduler.Runner
	validator   *services.ValidationHelper
}

func NewGroupHandler(memberships *services.MembershipService, runner *scheduler.Runner) *GroupHandler {
	return &GroupHandler{
		memberships: memberships,
		runner:      runner,
		validator:   services.NewValidationHelper(),
	}
}

// List returns the groups the authenticated client belongs to.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groups, err := h.memberships.ListGroups(r.Context(), clientID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"groups": groups})
}

// Detail returns one group's member-gated view.
func (h *GroupHandler) Detail(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID, err := strconv.Atoi(chi.URLParam(r, "groupId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
		return
	}

	detail, err := h.memberships.Detail(r.Context(), groupID, clientID)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(detail)
}

// Invite creates a pending invitation. The returned token is handed to
// the email delivery layer outside this service.
func (h *GroupHandler) Invite(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID, err := strconv.Atoi(chi.URLParam(r, "groupId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Email string `json:"email" validate:"required,email"`
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

	invitation, err := h.memberships.Invite(r.Context(), groupID, clientID, req.Email)
	if err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(invitation)
}

// Accept joins the authenticated client to the group named by the token.
func (h *GroupHandler) Accept(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	token := chi.URLParam(r, "token")
	if token == "" {
		services.SendErrorResponse(w, "Invalid invitation token", http.StatusBadRequest, nil)
		return
	}

	if err := h.memberships.Accept(r.Context(), token, clientID); err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Invitation accepted"})
}

// UpdateSettings changes the group's contribution schedule. Owner only.
func (h *GroupHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID, err := strconv.Atoi(chi.URLParam(r, "groupId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
		return
	}

	var req services.GroupSettings

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

	if err := h.memberships.UpdateSettings(r.Context(), groupID, clientID, req); err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Settings updated"})
}

// AssignFundingAccount designates the caller's auto-debit source account.
func (h *GroupHandler) AssignFundingAccount(w http.ResponseWriter, r *http.Request) {
	clientID, ok := clientIDFrom(r)
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	groupID, err := strconv.Atoi(chi.URLParam(r, "groupId"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid group id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		AccountID int `json:"accountId" validate:"required,gt=0"`
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

	if err := h.memberships.AssignFundingAccount(r.Context(), groupID, clientID, req.AccountID); err != nil {
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Funding account assigned"})
}

// TriggerSettlement runs the settlement pass on demand through the exact
// code path the scheduled tick uses.
func (h *GroupHandler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	if _, ok := clientIDFrom(r); !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	summary, err := h.runner.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrRunInProgress) {
			services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
			return
		}
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
