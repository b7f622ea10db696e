// Package api holds the HTTP handlers, router, and the error envelope
// shared by every endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tandem-social/tandem/internal/call"
	"github.com/tandem-social/tandem/internal/chat"
	"github.com/tandem-social/tandem/internal/middleware"
	"github.com/tandem-social/tandem/internal/payment"
	"github.com/tandem-social/tandem/internal/rtc"
	"github.com/tandem-social/tandem/internal/stream"
)

// Machine-readable error codes clients branch on.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeAuthFailed  = "auth_failed"
	ErrCodeNotFound    = "not_found"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal_error"
	ErrCodeForbidden   = "forbidden"
	ErrCodeConflict    = "conflict"
	ErrCodeBadRequest  = "bad_request"

	// ErrCodePaymentRequired means the stream's free window has lapsed
	// and no completed payment exists.
	ErrCodePaymentRequired = "payment_required"
)

// ErrorResponse is the envelope every failed request returns:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError sends the JSON error envelope and pushes the code back
// through the response writer so the request log carries it.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	middleware.UpdateResponseContext(w, middleware.SetErrorCode(ctx, code))

	body, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "marshal of error envelope failed", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.ErrorContext(ctx, "write of error envelope failed", "error", err)
	}
}

// StatusCodeMapping returns the HTTP status for an error code.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodePaymentRequired:
		return http.StatusPaymentRequired
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError maps domain sentinel errors to their HTTP representation.
// Unknown errors are logged and surfaced as internal_error.
func WriteDomainError(w http.ResponseWriter, ctx context.Context, err error) {
	code := domainErrorCode(err)
	status := StatusCodeMapping(code)
	if code == ErrCodeInternal {
		slog.ErrorContext(ctx, "unhandled domain error", "error", err)
		WriteError(w, ctx, status, code, "Internal server error")
		return
	}
	WriteError(w, ctx, status, code, err.Error())
}

func domainErrorCode(err error) string {
	switch {
	// Not found
	case errors.Is(err, call.ErrCallNotFound),
		errors.Is(err, chat.ErrConversationNotFound),
		errors.Is(err, chat.ErrMessageNotFound),
		errors.Is(err, stream.ErrStreamNotFound),
		errors.Is(err, payment.ErrPaymentNotFound):
		return ErrCodeNotFound

	// Forbidden
	case errors.Is(err, call.ErrNotParticipant),
		errors.Is(err, call.ErrNotInitiator),
		errors.Is(err, call.ErrSelfKick),
		errors.Is(err, chat.ErrNotMember),
		errors.Is(err, chat.ErrNotSender),
		errors.Is(err, stream.ErrNotOwner):
		return ErrCodeForbidden

	// Payment required
	case errors.Is(err, stream.ErrPaymentRequired):
		return ErrCodePaymentRequired

	// Conflict with current state
	case errors.Is(err, call.ErrActiveCallExists),
		errors.Is(err, call.ErrCallTerminal),
		errors.Is(err, call.ErrParticipantState),
		errors.Is(err, stream.ErrStreamState),
		errors.Is(err, stream.ErrStreamNotLive),
		errors.Is(err, stream.ErrViewerActive),
		errors.Is(err, payment.ErrAlreadyPaid),
		errors.Is(err, payment.ErrPaymentTerminal):
		return ErrCodeConflict

	// Validation
	case errors.Is(err, call.ErrTooFewMembers),
		errors.Is(err, call.ErrInvalidCallType),
		errors.Is(err, chat.ErrInvalidMessageType),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrTooFewMembers),
		errors.Is(err, chat.ErrMessageDeleted),
		errors.Is(err, chat.ErrReplyTargetMissing),
		errors.Is(err, stream.ErrInvalidPricing),
		errors.Is(err, stream.ErrMissingTitle),
		errors.Is(err, payment.ErrStreamNotPaid),
		errors.Is(err, rtc.ErrMissingChannelName),
		errors.Is(err, rtc.ErrMissingIdentity),
		errors.Is(err, rtc.ErrInvalidRole):
		return ErrCodeValidation

	default:
		return ErrCodeInternal
	}
}
