package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-identity-core/internal/application/auth"
)

// PasswordRecoveryHandler handles password recovery flow endpoints.
type PasswordRecoveryHandler struct {
	svc auth.Service
}

func NewPasswordRecoveryHandler(svc auth.Service) *PasswordRecoveryHandler {
	return &PasswordRecoveryHandler{svc: svc}
}

func (h *PasswordRecoveryHandler) Action(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "request":
		var req auth.EmailRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.RequestPasswordRecovery(r.Context(), req.Email); err != nil {
			httpError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "OTP sent"})
	case "resend":
		var req auth.EmailRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.ResendPasswordRecovery(r.Context(), req.Email); err != nil {
			httpError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "OTP resent"})
	case "reset":
		var req auth.ResetPasswordRequest
		if !decode(w, r, &req) {
			return
		}
		if err := h.svc.ResetPassword(r.Context(), req); err != nil {
			httpError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "password changed"})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
