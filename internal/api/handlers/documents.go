package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mailsmith/internal/blocks"
	"mailsmith/internal/core"
	"mailsmith/internal/db"
	"mailsmith/internal/types"
)

// DocumentRepo defines the data access contract for stored documents.
type DocumentRepo interface {
	Create(ctx context.Context, doc *types.Document) error
	GetByID(ctx context.Context, id string) (*types.Document, error)
	List(ctx context.Context, params db.ListDocumentsParams) ([]*types.Document, error)
	Update(ctx context.Context, doc *types.Document) error
	Delete(ctx context.Context, id string) error
}

// RenderRepo records render history rows and settles pending ones.
type RenderRepo interface {
	Create(ctx context.Context, ren *types.Render) error
	GetByID(ctx context.Context, id string) (*types.Render, error)
	ListByDocument(ctx context.Context, documentID string, params db.ListRendersParams) ([]*types.Render, error)
	UpdateResult(ctx context.Context, id string, status types.RenderStatus, outputBytes int, errMsg string, durationMS int64) error
}

// RenderPipeline is the build → filter → render composition from
// internal/render, reduced to what this handler invokes.
type RenderPipeline interface {
	RenderStored(ctx context.Context, definition types.DefinitionData, rc types.RenderContext) ([]byte, error)
}

// RenderJobPublisher enqueues asynchronous render jobs.
type RenderJobPublisher interface {
	Publish(ctx context.Context, job types.RenderJob) error
}

// CreateDocumentRequest is the request body for POST /v1/documents.
type CreateDocumentRequest struct {
	Name       string          `json:"name" validate:"required,max=128"`
	Definition json.RawMessage `json:"definition" validate:"required"`
}

// UpdateDocumentRequest is the request body for PUT /v1/documents/{id}.
// Updates replace name and definition wholesale; there is no field-level
// patching of stored definitions.
type UpdateDocumentRequest struct {
	Name       string          `json:"name" validate:"required,max=128"`
	Definition json.RawMessage `json:"definition" validate:"required"`
}

// RenderDocumentRequest carries the audience for a render of a stored
// document. An empty (or absent) body renders with an unconstrained context.
type RenderDocumentRequest struct {
	Context types.RenderContext `json:"context"`
}

// RenderResultResponse is the response for a synchronous render.
type RenderResultResponse struct {
	RenderID    string             `json:"render_id"`
	DocumentID  string             `json:"document_id"`
	Status      types.RenderStatus `json:"status"`
	HTML        string             `json:"html"`
	OutputBytes int                `json:"output_bytes"`
	DurationMS  int64              `json:"duration_ms"`
}

// RenderJobResponse acknowledges an enqueued render job. The job ID doubles
// as the render row ID, so clients poll the renders endpoints with it.
type RenderJobResponse struct {
	JobID      string             `json:"job_id"`
	DocumentID string             `json:"document_id"`
	Status     types.RenderStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
}

// DocumentHandler manages stored documents and their renders.
type DocumentHandler struct {
	docs      DocumentRepo
	renders   RenderRepo
	pipeline  RenderPipeline
	publisher RenderJobPublisher
	validator *core.Validator
	logger    types.Logger

	maxDefinitionBytes int64
}

// DocumentHandlerConfig carries the dependencies for NewDocumentHandler.
type DocumentHandlerConfig struct {
	Documents DocumentRepo
	Renders   RenderRepo
	Pipeline  RenderPipeline
	Publisher RenderJobPublisher
	Validator *core.Validator
	Logger    types.Logger

	// MaxDefinitionBytes caps request bodies that carry document
	// definitions (MAX_DEFINITION_BYTES). Zero applies the default cap.
	MaxDefinitionBytes int64
}

// NewDocumentHandler creates a DocumentHandler with the provided dependencies.
func NewDocumentHandler(cfg DocumentHandlerConfig) *DocumentHandler {
	return &DocumentHandler{
		docs:               cfg.Documents,
		renders:            cfg.Renders,
		pipeline:           cfg.Pipeline,
		publisher:          cfg.Publisher,
		validator:          cfg.Validator,
		logger:             cfg.Logger,
		maxDefinitionBytes: cfg.MaxDefinitionBytes,
	}
}

// RegisterRoutes mounts document routes onto the provided router.
func (h *DocumentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/documents", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/render", h.Render)
			r.Post("/render-jobs", h.EnqueueRender)
			r.Get("/renders", h.ListRenders)
			r.Get("/renders/{renderID}", h.GetRender)
		})
	})
}

// Create handles POST /v1/documents. The definition is stored verbatim;
// only the envelope is validated here. Unknown block types surface at render
// time so stored documents survive registry evolution.
func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := core.DecodeJSONLimit(w, r, &req, h.maxDefinitionBytes); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if _, err := blocks.ParseDefinition(req.Definition); err != nil {
		core.Error(w, r, err)
		return
	}

	now := time.Now().UTC()
	doc := &types.Document{
		ID:         "doc_" + uuid.New().String(),
		Name:       req.Name,
		Definition: types.DefinitionData(req.Definition),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.docs.Create(r.Context(), doc); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())
	h.logger.Info("document created", "document_id", doc.ID, "name", doc.Name, "actor_id", actor.ID)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: doc})
}

// List handles GET /v1/documents with optional name filter and cursor
// pagination.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	params := db.ListDocumentsParams{
		Limit: defaultPageLimit,
		Name:  r.URL.Query().Get("name"),
	}

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

	docs, err := h.docs.List(r.Context(), params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	docs, pageInfo := paginate(docs, params.Limit, func(d *types.Document) time.Time { return d.CreatedAt })

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: docs,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// Get handles GET /v1/documents/{documentID}.
func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.GetByID(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: doc})
}

// Update handles PUT /v1/documents/{documentID}. The replacement definition
// passes the same envelope parse as creation, so a document can never be
// updated into an unparseable state.
func (h *DocumentHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateDocumentRequest
	if err := core.DecodeJSONLimit(w, r, &req, h.maxDefinitionBytes); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if _, err := blocks.ParseDefinition(req.Definition); err != nil {
		core.Error(w, r, err)
		return
	}

	doc := &types.Document{
		ID:         chi.URLParam(r, "documentID"),
		Name:       req.Name,
		Definition: types.DefinitionData(req.Definition),
	}
	if err := h.docs.Update(r.Context(), doc); err != nil {
		core.Error(w, r, err)
		return
	}

	// Re-read so the response carries the database-assigned updated_at.
	updated, err := h.docs.GetByID(r.Context(), doc.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())
	h.logger.Info("document updated", "document_id", doc.ID, "name", doc.Name, "actor_id", actor.ID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: updated})
}

// Delete handles DELETE /v1/documents/{documentID}. Render history rows
// cascade with the document. A render job already in flight settles its row
// as failed when the worker finds the document gone.
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if err := h.docs.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	actor, _ := types.GetActor(r.Context())
	h.logger.Info("document deleted", "document_id", id, "actor_id", actor.ID)
	w.WriteHeader(http.StatusNoContent)
}

// Render handles POST /v1/documents/{documentID}/render: a synchronous
// build → filter → render of the stored definition for the posted context.
// Every attempt is recorded as a render row, failed ones included.
func (h *DocumentHandler) Render(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.GetByID(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	req, err := h.decodeRenderRequest(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	start := time.Now()
	html, renderErr := h.pipeline.RenderStored(r.Context(), doc.Definition, req.Context)
	durationMS := time.Since(start).Milliseconds()

	ren := &types.Render{
		ID:          "ren_" + uuid.New().String(),
		DocumentID:  doc.ID,
		Status:      types.RenderStatusSucceeded,
		Context:     req.Context,
		OutputBytes: len(html),
		DurationMS:  durationMS,
		CreatedAt:   time.Now().UTC(),
	}
	if renderErr != nil {
		ren.Status = types.RenderStatusFailed
		ren.Error = renderErr.Error()
		ren.OutputBytes = 0
	}

	// History is observability; losing a row must not fail the render.
	if err := h.renders.Create(r.Context(), ren); err != nil {
		h.logger.Warn("failed to record render",
			"document_id", doc.ID,
			"render_id", ren.ID,
			"error", err,
		)
	}

	if renderErr != nil {
		core.Error(w, r, renderErr)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: RenderResultResponse{
		RenderID:    ren.ID,
		DocumentID:  doc.ID,
		Status:      ren.Status,
		HTML:        string(html),
		OutputBytes: ren.OutputBytes,
		DurationMS:  durationMS,
	}})
}

// EnqueueRender handles POST /v1/documents/{documentID}/render-jobs. It
// inserts a pending render row as the job handle, then publishes the job.
// A publish failure settles the row as failed so polling never hangs on a
// job that was never queued.
func (h *DocumentHandler) EnqueueRender(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.GetByID(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	req, err := h.decodeRenderRequest(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ren := &types.Render{
		ID:         "ren_" + uuid.New().String(),
		DocumentID: doc.ID,
		Status:     types.RenderStatusPending,
		Context:    req.Context,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.renders.Create(r.Context(), ren); err != nil {
		core.Error(w, r, err)
		return
	}

	job := types.RenderJob{
		JobID:      ren.ID,
		DocumentID: doc.ID,
		Context:    req.Context,
		Source:     types.JobSourceAPI,
		TraceID:    types.GetRequestID(r.Context()),
	}
	if err := h.publisher.Publish(r.Context(), job); err != nil {
		if uerr := h.renders.UpdateResult(r.Context(), ren.ID, types.RenderStatusFailed, 0, "failed to enqueue render job", 0); uerr != nil {
			h.logger.Error("failed to settle unpublished render job",
				"render_id", ren.ID,
				"error", uerr,
			)
		}
		core.Error(w, r, err)
		return
	}

	h.logger.Info("render job enqueued",
		"job_id", ren.ID,
		"document_id", doc.ID,
	)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: RenderJobResponse{
		JobID:      ren.ID,
		DocumentID: doc.ID,
		Status:     types.RenderStatusPending,
		CreatedAt:  ren.CreatedAt,
	}})
}

// ListRenders handles GET /v1/documents/{documentID}/renders with optional
// status filter and cursor pagination.
func (h *DocumentHandler) ListRenders(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	if _, err := h.docs.GetByID(r.Context(), documentID); err != nil {
		core.Error(w, r, err)
		return
	}

	params := db.ListRendersParams{Limit: defaultPageLimit}

	if status := r.URL.Query().Get("status"); status != "" {
		switch types.RenderStatus(status) {
		case types.RenderStatusPending, types.RenderStatusSucceeded, types.RenderStatusFailed:
			params.Status = types.RenderStatus(status)
		default:
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidField,
				"status must be one of: pending, succeeded, failed",
				nil,
			))
			return
		}
	}

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

	renders, err := h.renders.ListByDocument(r.Context(), documentID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	renders, pageInfo := paginate(renders, params.Limit, func(rn *types.Render) time.Time { return rn.CreatedAt })

	core.JSON(w, r, http.StatusOK, core.APIResponse{
		Data: renders,
		Meta: &types.ResponseMeta{Pagination: &pageInfo},
	})
}

// GetRender handles GET /v1/documents/{documentID}/renders/{renderID}.
// Clients poll this after enqueueing a render job.
func (h *DocumentHandler) GetRender(w http.ResponseWriter, r *http.Request) {
	ren, err := h.renders.GetByID(r.Context(), chi.URLParam(r, "renderID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	// Render rows are document-scoped; a mismatched parent is a 404, not a
	// hint that the ID exists elsewhere.
	if ren.DocumentID != chi.URLParam(r, "documentID") {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundRender, "render not found", nil))
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ren})
}

// decodeRenderRequest reads an optional render request body. An empty body
// yields the zero context, which renders every visibility-gated block.
func (h *DocumentHandler) decodeRenderRequest(w http.ResponseWriter, r *http.Request) (RenderDocumentRequest, error) {
	var req RenderDocumentRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	if err := core.DecodeJSON(w, r, &req); err != nil {
		return req, err
	}
	return req, nil
}
