package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-identity-core/internal/application/auth"
	"github.com/go-identity-core/internal/transport/http/middleware"
)

// AccountHandler serves the authenticated account endpoints.
type AccountHandler struct {
	svc auth.Service
}

func NewAccountHandler(svc auth.Service) *AccountHandler { return &AccountHandler{svc: svc} }

func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if claims.UserID == "" {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	a, err := h.svc.Me(r.Context(), claims.UserID)
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AccountEnvelope{Account: a})
}

func (h *AccountHandler) Block(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Block(r.Context(), chi.URLParam(r, "email")); err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "account blocked"})
}
