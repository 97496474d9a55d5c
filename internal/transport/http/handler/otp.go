package handler

import (
	"net/http"

	"github.com/go-identity-core/internal/application/auth"
)

// OTPHandler handles the email-verification code flow.
type OTPHandler struct {
	svc auth.Service
}

func NewOTPHandler(svc auth.Service) *OTPHandler { return &OTPHandler{svc: svc} }

func (h *OTPHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req auth.EmailRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.SendOTP(r.Context(), req.Email); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "OTP sent"})
}

func (h *OTPHandler) Resend(w http.ResponseWriter, r *http.Request) {
	var req auth.EmailRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ResendOTP(r.Context(), req.Email); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "OTP resent"})
}

func (h *OTPHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req auth.ValidateOTPRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.ValidateOTP(r.Context(), req.Email, req.OTP); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "email verified"})
}
