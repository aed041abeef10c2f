package services

import (
	"errors"
	"net/http"

	"github.com/lib/pq"
)

// Kind classifies a service failure for the HTTP boundary. Business
// outcomes are surfaced to the caller unchanged and never retried;
// transient storage faults may be retried by the caller.
type Kind string

const (
	KindValidation        Kind = "validation_error"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindUnauthorized      Kind = "unauthorized"
	KindTransient         Kind = "transient_storage_error"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountInactive   = errors.New("account is not active")
	ErrSameAccount       = errors.New("origin and destination accounts are identical")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrVersionConflict   = errors.New("account was modified concurrently, retry")

	ErrExhaustedRetries = errors.New("could not issue a unique account number")

	ErrClientNotFound     = errors.New("client not found")
	ErrClientLocked       = errors.New("client account is locked")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWrongPassword      = errors.New("invalid transfer password")

	ErrGroupNotFound         = errors.New("group not found")
	ErrMembershipNotFound    = errors.New("membership not found")
	ErrNotAMember            = errors.New("caller is not an accepted member of this group")
	ErrNotOwner              = errors.New("caller is not the owner of this group")
	ErrAlreadyInvited        = errors.New("client already has a pending invitation")
	ErrAlreadyMember         = errors.New("client is already a member of this group")
	ErrInvalidOrExpiredToken = errors.New("invitation token is invalid or expired")
	ErrWrongInvitee          = errors.New("invitation belongs to a different client")
	ErrNotAccountOwner       = errors.New("account does not belong to the caller")

	ErrTransactionNotFound = errors.New("transaction not found")
)

// KindOf maps a service error to its stable kind. Unrecognised errors are
// treated as transient storage faults so no driver error text leaks out.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSameAccount):
		return KindValidation
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrClientNotFound),
		errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrMembershipNotFound),
		errors.Is(err, ErrTransactionNotFound),
		errors.Is(err, ErrInvalidOrExpiredToken):
		return KindNotFound
	case errors.Is(err, ErrAlreadyInvited),
		errors.Is(err, ErrAlreadyMember),
		errors.Is(err, ErrAccountInactive):
		return KindConflict
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrNotAMember),
		errors.Is(err, ErrNotOwner),
		errors.Is(err, ErrWrongInvitee),
		errors.Is(err, ErrNotAccountOwner),
		errors.Is(err, ErrWrongPassword),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrClientLocked):
		return KindUnauthorized
	default:
		return KindTransient
	}
}

// HTTPStatus maps an error kind to a response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case KindUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation. The unique index is the actual uniqueness guarantee; callers
// use this to turn the violation into a retry or a Conflict.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
