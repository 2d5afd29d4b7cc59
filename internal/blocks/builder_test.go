package blocks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsmith/internal/feeds"
	"mailsmith/internal/types"
)

// nopLogger satisfies types.Logger for tests that do not inspect log output.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)      {}
func (nopLogger) Error(string, ...any)     {}
func (nopLogger) Warn(string, ...any)      {}
func (nopLogger) With(...any) types.Logger { return nopLogger{} }

// stubSource is a canned Feed Source Adapter: fixed items or errors per URI,
// recording every fetch. Safe for the concurrent fetches the builder issues.
type stubSource struct {
	mu    sync.Mutex
	items map[string][]feeds.Item
	errs  map[string]error
	calls []string
}

func (s *stubSource) Fetch(ctx context.Context, uri string) ([]feeds.Item, error) {
	s.mu.Lock()
	s.calls = append(s.calls, uri)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := s.errs[uri]; ok {
		return nil, err
	}
	return s.items[uri], nil
}

func (s *stubSource) fetched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newTestBuilder(src feeds.Source) *Builder {
	return NewBuilder(DefaultRegistry(), src, nopLogger{})
}

func blockTypes(blks []*Block) []string {
	out := make([]string, 0, len(blks))
	for _, b := range blks {
		out = append(out, b.Type)
	}
	return out
}

func TestBuildDocument_PreservesDeclaredOrder(t *testing.T) {
	tests := []struct {
		name string
		tags []string
	}{
		{name: "declared order", tags: []string{TagHeading, TagHTML, TagDivider, TagButton}},
		{name: "permuted order", tags: []string{TagDivider, TagButton, TagHeading, TagHTML}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defs := make([]BlockDefinition, 0, len(tt.tags))
			for _, tag := range tt.tags {
				defs = append(defs, BlockDefinition{Type: tag})
			}
			def := &Definition{
				From:    "a@example.com",
				Subject: "S",
				Content: ContentDefinition{Blocks: defs},
			}

			doc, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
			require.NoError(t, err)
			assert.Equal(t, tt.tags, blockTypes(doc.Blocks))
		})
	}
}

func TestBuildDocument_ResolvesDefaults(t *testing.T) {
	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{Type: TagHeading, Properties: Properties{"content": "Hi", "fontSize": 30}},
		}},
	}

	doc, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 1)

	props := doc.Blocks[0].Properties
	assert.Equal(t, "Hi", props["content"], "caller value kept")
	assert.Equal(t, 30, props["fontSize"], "caller override beats default")
	assert.Equal(t, "left", props["align"], "untouched default applied")
	assert.Equal(t, 2, props["level"])
}

func TestBuildDocument_MarginMergesPerKey(t *testing.T) {
	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{Type: TagHeading, Properties: Properties{"margin": map[string]any{"top": 0}}},
		}},
	}

	doc, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
	require.NoError(t, err)

	margin, ok := doc.Blocks[0].Properties.Map("margin")
	require.True(t, ok)
	assert.Equal(t, 0, margin["top"])
	assert.Equal(t, 12, margin["bottom"], "default sibling key survives a partial margin override")
}

func TestBuildDocument_NestedChildren(t *testing.T) {
	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{
				Type: TagContainer,
				Children: []BlockDefinition{
					{
						Type: TagContainer,
						Children: []BlockDefinition{
							{Type: TagHTML, Properties: Properties{"content": "<p>deep</p>"}},
						},
					},
					{Type: TagDivider},
				},
			},
		}},
	}

	doc, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 1)

	outer := doc.Blocks[0]
	require.Equal(t, []string{TagContainer, TagDivider}, blockTypes(outer.Children))
	inner := outer.Children[0]
	require.Len(t, inner.Children, 1)
	assert.Equal(t, TagHTML, inner.Children[0].Type)
	assert.Equal(t, "<p>deep</p>", inner.Children[0].Properties["content"])
}

func TestBuildDocument_UnknownTypeFailsWithPath(t *testing.T) {
	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{
				Type: TagContainer,
				Children: []BlockDefinition{
					{Type: TagHeading, Properties: Properties{"content": "ok"}},
					{Type: "bogus"},
				},
			},
		}},
	}

	doc, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
	require.Error(t, err)
	assert.Nil(t, doc, "a failed build never returns a partial tree")

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUnknownBlockType, appErr.Code)
	assert.Equal(t, "bogus", appErr.Details["tag"])
	assert.Equal(t, "container[0].bogus[1]", appErr.Details["path"])
}

func TestBuildDocument_MissingType(t *testing.T) {
	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{Properties: Properties{"content": "orphan"}},
		}},
	}

	_, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeMissingProperty, appErr.Code)
	assert.Equal(t, "type", appErr.Details["property"])
	assert.Equal(t, "?[0]", appErr.Details["path"])
}

func TestBuildDocument_VisibilityCloned(t *testing.T) {
	vis := &Visibility{Devices: []string{"mobile"}, Receiver: map[string]string{"plan": "pro"}}
	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{Type: TagHeading, Visibility: vis},
		}},
	}

	doc, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
	require.NoError(t, err)

	built := doc.Blocks[0].Visibility
	require.NotNil(t, built)
	assert.Equal(t, vis, built)
	require.NotSame(t, vis, built, "built tree must not alias the definition")

	built.Devices[0] = "desktop"
	built.Receiver["plan"] = "free"
	assert.Equal(t, "mobile", vis.Devices[0], "definition untouched by tree mutation")
	assert.Equal(t, "pro", vis.Receiver["plan"])
}

func TestBuildDocument_NilDefinition(t *testing.T) {
	_, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), nil)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInvalidDefinition, appErr.Code)
}

func TestBuildDocument_EmptyBlocks(t *testing.T) {
	def := &Definition{From: "a@example.com", Subject: "S"}

	doc, err := newTestBuilder(&stubSource{}).BuildDocument(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", doc.From)
	assert.Equal(t, "S", doc.Subject)
	assert.Empty(t, doc.Blocks)
}

func TestBuildDocument_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{Type: TagHeading, Properties: Properties{"content": "never built"}},
		}},
	}

	_, err := newTestBuilder(&stubSource{}).BuildDocument(ctx, def)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBuildDocument_CustomRegistryType(t *testing.T) {
	reg := DefaultRegistry()
	require.NoError(t, reg.Register(BlockType{
		Tag:      "spacer",
		Defaults: Properties{"height": 12},
	}))

	def := &Definition{
		From:    "a@example.com",
		Subject: "S",
		Content: ContentDefinition{Blocks: []BlockDefinition{
			{Type: "spacer", Properties: Properties{"height": 24}},
		}},
	}

	doc, err := NewBuilder(reg, &stubSource{}, nopLogger{}).BuildDocument(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, "spacer", doc.Blocks[0].Type)
	assert.Equal(t, 24, doc.Blocks[0].Properties["height"])
}
