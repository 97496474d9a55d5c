package handler

import (
	"net/http"

	"github.com/go-identity-core/internal/application/auth"
	"github.com/go-identity-core/internal/domain"
)

// AuthHandler handles sign-up, sign-in, token refresh and profile completion.
type AuthHandler struct {
	svc auth.Service
}

func NewAuthHandler(svc auth.Service) *AuthHandler { return &AuthHandler{svc: svc} }

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req domain.SignUpRequest
	if !decode(w, r, &req) {
		return
	}
	if _, err := h.svc.SignUp(r.Context(), req); err != nil {
		httpError(w, r, err)
		return
	}
	// The account stays incomplete until the email is verified; nothing about it is echoed back.
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "account created"})
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req domain.SignInRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.svc.SignIn(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req auth.RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req auth.GoogleAuthRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.svc.GoogleAuth(r.Context(), req.IDToken)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req domain.CompleteAuthRequest
	if !decode(w, r, &req) {
		return
	}
	pair, err := h.svc.CompleteAuth(r.Context(), req)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}
