// Package handlers contains the HTTP handler implementations for the
// mailsmith API. Each handler declares local interfaces for the services and
// repositories it consumes, takes its dependencies through a constructor,
// and mounts its own routes with RegisterRoutes.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mailsmith/internal/core"
	"mailsmith/internal/db"
	"mailsmith/internal/types"
)

// KeyIssuer is the slice of auth.KeyService the handler needs: issuing
// returns the plaintext exactly once, revocation is a soft delete.
type KeyIssuer interface {
	IssueKey(ctx context.Context, name string) (*types.APIKey, string, error)
	RevokeKey(ctx context.Context, id string) error
}

// APIKeyLister reads stored keys. Listing bypasses the service layer; there
// is no verification involved.
type APIKeyLister interface {
	List(ctx context.Context, params db.ListAPIKeysParams) ([]*types.APIKey, error)
}

// CreateAPIKeyRequest is the request body for POST /v1/api-keys.
type CreateAPIKeyRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// APIKeyResponse is the safe representation for list responses. It never
// includes the secret or its hash, only the visible prefix.
type APIKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Prefix     string     `json:"prefix"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// APIKeySecretResponse is returned once, at creation. Key holds the
// plaintext secret, which is never stored and cannot be retrieved again.
type APIKeySecretResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// APIKeyHandler manages programmatic access credentials. Its routes mount
// behind the admin middleware: tenant keys cannot mint or revoke keys, which
// also solves bootstrapping the first key.
type APIKeyHandler struct {
	issuer    KeyIssuer
	keys      APIKeyLister
	validator *core.Validator
	logger    types.Logger
}

// NewAPIKeyHandler creates an APIKeyHandler with the provided dependencies.
func NewAPIKeyHandler(issuer KeyIssuer, keys APIKeyLister, v *core.Validator, logger types.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		issuer:    issuer,
		keys:      keys,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts API key routes onto the provided router. The caller
// is responsible for applying the admin auth middleware.
func (h *APIKeyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api-keys", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Delete("/{keyID}", h.Revoke)
	})
}

// Create handles POST /v1/api-keys. The response is the only time the
// plaintext key is ever visible.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	key, plaintext, err := h.issuer.IssueKey(r.Context(), req.Name)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())
	h.logger.Info("api key issued",
		"key_id", key.ID,
		"key_name", key.Name,
		"actor_id", actor.ID,
	)

	resp := APIKeySecretResponse{
		APIKeyResponse: toAPIKeyResponse(key),
		Key:            plaintext,
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: resp})
}

// List handles GET /v1/api-keys. Secrets are never returned, only prefixes.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	params := db.ListAPIKeysParams{Limit: defaultPageLimit}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > maxPageLimit {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"limit must be a number between 1 and 100",
				nil,
			))
			return
		}
		params.Limit = limit
	}
	params.Cursor = r.URL.Query().Get("cursor")
	params.ActiveOnly = r.URL.Query().Get("active") == "true"

	keys, err := h.keys.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	keys, pageInfo := paginate(keys, params.Limit, func(k *types.APIKey) time.Time { return k.CreatedAt })

	data := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		data = append(data, toAPIKeyResponse(k))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: data,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// Revoke handles DELETE /v1/api-keys/{keyID}. Revocation is a soft delete;
// the key stops verifying on the next request that presents it.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if keyID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"API key ID is required",
			nil,
		))
		return
	}

	if err := h.issuer.RevokeKey(r.Context(), keyID); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())
	h.logger.Info("api key revoked", "key_id", keyID, "actor_id", actor.ID)

	w.WriteHeader(http.StatusNoContent)
}

// toAPIKeyResponse converts a stored key to the safe response DTO. The hash
// is intentionally omitted.
func toAPIKeyResponse(k *types.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Prefix:     k.Prefix,
		RevokedAt:  k.RevokedAt,
		LastUsedAt: k.LastUsedAt,
		CreatedAt:  k.CreatedAt,
	}
}
