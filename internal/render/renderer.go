// Package render turns composed block trees into complete, responsive
// HTML email documents.
//
// Each block type renders through its own embedded template. Raw markup is
// confined to the html block; every other property value passes through
// html/template's contextual escaping before it reaches the output.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"

	"mailsmith/internal/blocks"
	"mailsmith/internal/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// blockTags lists the block types that ship with an embedded template.
// Types outside this list render as transparent wrappers around their
// children. Feed blocks never reach the renderer: composition replaces
// them with containers.
var blockTags = []string{
	blocks.TagHeading,
	blocks.TagHTML,
	blocks.TagImage,
	blocks.TagContainer,
	blocks.TagButton,
	blocks.TagDivider,
}

// Renderer renders built block trees into HTML email documents using Go's
// html/template with embedded template files.
type Renderer struct {
	layout *template.Template
	blocks map[string]*template.Template
	logger types.Logger
}

// RendererConfig holds the parameters needed to construct a Renderer.
type RendererConfig struct {
	Logger types.Logger
}

// documentData is the struct passed into the base layout template.
type documentData struct {
	Subject string
	Body    template.HTML
}

// blockData is the struct passed into block templates for rendering.
type blockData struct {
	props    blocks.Properties
	Children template.HTML
}

// Prop returns the named property value, or the empty string when absent,
// so templates never see a nil.
func (d blockData) Prop(key string) any {
	if v, ok := d.props[key]; ok && v != nil {
		return v
	}
	return ""
}

// Str returns the named property as a string. Non-string values yield the
// empty string, which makes it usable in template conditionals.
func (d blockData) Str(key string) string {
	s, _ := d.props.String(key)
	return s
}

// Sub looks one level into a mapping-valued property, e.g. margin top.
func (d blockData) Sub(key, sub string) any {
	m, ok := d.props.Map(key)
	if !ok {
		return ""
	}
	if v, ok := m[sub]; ok && v != nil {
		return v
	}
	return ""
}

// Raw returns the named property as unescaped HTML. Only the html block
// template uses it; callers own the markup they inject there.
func (d blockData) Raw(key string) template.HTML {
	s, _ := d.props.String(key)
	return template.HTML(s)
}

// NewRenderer parses the embedded templates and returns a Renderer.
// Returns an error if any template fails to parse.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}
	layout, err := template.New("base").Parse(string(baseHTML))
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
	}

	r := &Renderer{
		layout: layout,
		blocks: make(map[string]*template.Template, len(blockTags)),
		logger: cfg.Logger,
	}
	for _, tag := range blockTags {
		content, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", tag))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", tag, err)
		}
		tmpl, err := template.New(tag).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", tag, err)
		}
		r.blocks[tag] = tmpl
	}
	return r, nil
}

// RenderDocument renders a built document into a self-contained HTML email.
// The input tree is read, never modified; callers apply visibility
// filtering before rendering.
func (r *Renderer) RenderDocument(doc *blocks.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("renderer: document is nil")
	}

	body, err := r.renderBlocks(doc.Blocks)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := r.layout.Execute(&buf, documentData{Subject: doc.Subject, Body: body}); err != nil {
		return nil, fmt.Errorf("renderer: failed to render document: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) renderBlocks(blks []*blocks.Block) (template.HTML, error) {
	var sb strings.Builder
	for _, b := range blks {
		rendered, err := r.renderBlock(b)
		if err != nil {
			return "", err
		}
		sb.WriteString(string(rendered))
	}
	return template.HTML(sb.String()), nil
}

func (r *Renderer) renderBlock(b *blocks.Block) (template.HTML, error) {
	children, err := r.renderBlocks(b.Children)
	if err != nil {
		return "", err
	}

	tmpl, ok := r.blocks[b.Type]
	if !ok {
		// Registered custom types without a template keep their children
		// and lose the wrapper. Loud enough to notice, soft enough to
		// keep the document deliverable.
		r.logger.Warn("no template for block type, rendering children only", "type", b.Type)
		return children, nil
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, blockData{props: b.Properties, Children: children}); err != nil {
		return "", fmt.Errorf("renderer: failed to render %s block: %w", b.Type, err)
	}
	return template.HTML(buf.String()), nil
}
