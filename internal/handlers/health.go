package handlers

import (
	"net/http"

	"github.com/Davincible/copilot-gateway/internal/models"
)

// TokenStatus reports whether an upstream credential is currently held.
type TokenStatus interface {
	HasValidToken() bool
}

type HealthHandler struct {
	tokens TokenStatus
	models *models.Registry
}

func NewHealthHandler(tokens TokenStatus, registry *models.Registry) *HealthHandler {
	return &HealthHandler{
		tokens: tokens,
		models: registry,
	}
}

type healthResponse struct {
	Status string `json:"status"`
	Token  bool   `json:"token"`
	Models int    `json:"models"`
}

// ServeHTTP always answers 200; the body tells whether a credential and a
// model catalogue are loaded.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.tokens != nil {
		resp.Token = h.tokens.HasValidToken()
	}
	if h.models != nil {
		resp.Models = h.models.Len()
	}
	writeJSON(r.Context(), w, resp, http.StatusOK)
}

// Models serves GET /models from the cached upstream catalogue.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, models.List{Object: "list", Data: h.models.List()}, http.StatusOK)
}
