package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrConflict         = errors.New("conflict")
	ErrAlreadyActivated = errors.New("account already activated")
	ErrAccountNotActive = errors.New("account not active")
	ErrBlocked          = errors.New("account blocked")
	ErrEmailNotVerified = errors.New("email not verified")
	ErrWrongCredentials = errors.New("wrong credentials")
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
	ErrAlreadySent      = errors.New("otp already sent")
	ErrSessionExpired   = errors.New("otp session expired")
	ErrOTPExpired       = errors.New("otp expired")
	ErrInvalidOTP       = errors.New("invalid otp")
	ErrTooManyRequests  = errors.New("too many requests")
	ErrAccessDenied     = errors.New("access denied")
	ErrForbidden        = errors.New("forbidden")
	ErrBadRequest       = errors.New("bad request")
	// ErrInternal covers misconfiguration and unreachable backends. Its details
	// are logged, never returned to end users.
	ErrInternal = errors.New("internal error")
)
