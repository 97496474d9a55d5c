package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-identity-core/internal/domain"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrAlreadyExists, http.StatusConflict},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrAlreadyActivated, http.StatusConflict},
	{domain.ErrAlreadySent, http.StatusConflict},
	{domain.ErrAccountNotActive, http.StatusForbidden},
	{domain.ErrBlocked, http.StatusForbidden},
	{domain.ErrEmailNotVerified, http.StatusForbidden},
	{domain.ErrAccessDenied, http.StatusForbidden},
	{domain.ErrForbidden, http.StatusForbidden},
	{domain.ErrWrongCredentials, http.StatusUnauthorized},
	{domain.ErrInvalidToken, http.StatusUnauthorized},
	{domain.ErrTokenExpired, http.StatusUnauthorized},
	{domain.ErrSessionExpired, http.StatusGone},
	{domain.ErrOTPExpired, http.StatusGone},
	{domain.ErrInvalidOTP, http.StatusGone},
	{domain.ErrTooManyRequests, http.StatusTooManyRequests},
	{domain.ErrBadRequest, http.StatusBadRequest},
}

// httpError maps a service error to its status code. Anything not matching a
// domain sentinel, ErrInternal included, is logged and answered with an
// opaque 500.
func httpError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range statusBySentinel {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.err.Error())
			return
		}
	}
	slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
