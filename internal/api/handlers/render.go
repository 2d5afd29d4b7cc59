package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mailsmith/internal/core"
	"mailsmith/internal/types"
)

// RenderRequest is the request body for POST /v1/render: a full inline
// definition plus the audience to render it for. Nothing is persisted.
type RenderRequest struct {
	Definition json.RawMessage     `json:"definition" validate:"required"`
	Context    types.RenderContext `json:"context"`
}

// InlineRenderResponse is the response for POST /v1/render.
type InlineRenderResponse struct {
	HTML        string `json:"html"`
	OutputBytes int    `json:"output_bytes"`
	DurationMS  int64  `json:"duration_ms"`
}

// RenderHandler renders inline definitions without storing anything. It is
// the preview path: authors iterate on a definition before saving it.
type RenderHandler struct {
	pipeline  RenderPipeline
	validator *core.Validator
	logger    types.Logger

	maxDefinitionBytes int64
}

// NewRenderHandler creates a RenderHandler with the provided dependencies.
func NewRenderHandler(pipeline RenderPipeline, v *core.Validator, logger types.Logger, maxDefinitionBytes int64) *RenderHandler {
	return &RenderHandler{
		pipeline:           pipeline,
		validator:          v,
		logger:             logger,
		maxDefinitionBytes: maxDefinitionBytes,
	}
}

// RegisterRoutes mounts the render route onto the provided router.
func (h *RenderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/render", h.Render)
}

// Render handles POST /v1/render: build → filter → render, synchronously,
// returning the HTML. Build errors come back as 422 with the failing block
// path in the details; feed fetch failures as 502.
func (h *RenderHandler) Render(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := core.DecodeJSONLimit(w, r, &req, h.maxDefinitionBytes); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	start := time.Now()
	html, err := h.pipeline.RenderStored(r.Context(), types.DefinitionData(req.Definition), req.Context)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: InlineRenderResponse{
		HTML:        string(html),
		OutputBytes: len(html),
		DurationMS:  time.Since(start).Milliseconds(),
	}})
}
