package render

import (
	"context"

	"mailsmith/internal/blocks"
	"mailsmith/internal/types"
)

// Service runs the composition pipeline for one render request: build the
// tree from its definition, filter it for the render context, render the
// survivors to HTML.
type Service struct {
	builder  *blocks.Builder
	renderer *Renderer
}

// NewService creates a Service from its two stages.
func NewService(builder *blocks.Builder, renderer *Renderer) *Service {
	return &Service{builder: builder, renderer: renderer}
}

// Render produces the HTML email for a parsed definition.
func (s *Service) Render(ctx context.Context, def *blocks.Definition, rc types.RenderContext) ([]byte, error) {
	doc, err := s.builder.BuildDocument(ctx, def)
	if err != nil {
		return nil, err
	}
	return s.renderer.RenderDocument(blocks.FilterDocument(doc, rc))
}

// RenderStored parses a stored JSON definition and renders it. API handlers
// and the queue worker both render persisted documents through this path.
func (s *Service) RenderStored(ctx context.Context, definition types.DefinitionData, rc types.RenderContext) ([]byte, error) {
	def, err := blocks.ParseDefinition([]byte(definition))
	if err != nil {
		return nil, err
	}
	return s.Render(ctx, def, rc)
}
