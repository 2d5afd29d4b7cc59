package blocks

import (
	"context"
	"fmt"
	"sort"

	"mailsmith/internal/feeds"
)

// SynthesizeFunc produces the computed fields forced onto one synthesized
// child for one feed item. Returning false skips the child for that item with
// no placeholder (an image block for an item without an image). A type with a
// SynthesizeFunc is feed-synthesizable and may appear in a child policy.
type SynthesizeFunc func(item feeds.Item) (Properties, bool)

// ExpandFunc replaces a block description with an ordered sequence of built
// blocks at build time. A type with an ExpandFunc never appears in the output
// tree itself; the feed type is the builtin example.
type ExpandFunc func(ctx context.Context, b *Builder, def *BlockDefinition, path Path) ([]*Block, error)

// BlockType describes one registered block type: its tag, the builtin default
// property set, and its optional capabilities. Both function fields may be
// nil; a plain leaf or container type has neither.
type BlockType struct {
	Tag        string
	Defaults   Properties
	Synthesize SynthesizeFunc
	Expand     ExpandFunc
}

// Registry is the open set of known block types. New types register without
// touching existing ones; the builder dispatches on a type's capabilities
// rather than a closed enumeration.
//
// Registration must finish before the registry is handed to a Builder;
// lookups are read-only thereafter and safe for concurrent use.
type Registry struct {
	types map[string]BlockType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]BlockType)}
}

// Register adds a block type. Registering an empty or duplicate tag is an
// error: builtin types are never silently replaced.
func (r *Registry) Register(bt BlockType) error {
	if bt.Tag == "" {
		return fmt.Errorf("registry: block type tag must not be empty")
	}
	if _, exists := r.types[bt.Tag]; exists {
		return fmt.Errorf("registry: block type %q already registered", bt.Tag)
	}
	r.types[bt.Tag] = bt
	return nil
}

// Lookup returns the registered type for a tag.
func (r *Registry) Lookup(tag string) (BlockType, bool) {
	bt, ok := r.types[tag]
	return bt, ok
}

// Tags returns all registered tags in sorted order, for error messages and
// introspection endpoints.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.types))
	for tag := range r.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (r *Registry) mustRegister(bt BlockType) {
	if err := r.Register(bt); err != nil {
		panic(err)
	}
}

// DefaultRegistry creates a registry with all builtin block types.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.mustRegister(BlockType{
		Tag: TagHeading,
		Defaults: Properties{
			"level":    2,
			"align":    "left",
			"color":    "#1a1a1a",
			"fontSize": 22,
			"margin":   map[string]any{"top": 24, "bottom": 12},
		},
		Synthesize: func(item feeds.Item) (Properties, bool) {
			return Properties{"content": item.Title}, true
		},
	})

	r.mustRegister(BlockType{
		Tag: TagHTML,
		Defaults: Properties{
			"fontSize": 15,
			"color":    "#3c3c3c",
			"margin":   map[string]any{"top": 0, "bottom": 16},
		},
		Synthesize: func(item feeds.Item) (Properties, bool) {
			return Properties{"content": item.Body}, true
		},
	})

	r.mustRegister(BlockType{
		Tag: TagImage,
		Defaults: Properties{
			"width":  "100%",
			"alt":    "",
			"margin": map[string]any{"top": 8, "bottom": 8},
		},
		Synthesize: func(item feeds.Item) (Properties, bool) {
			if item.ImageSource == "" {
				return nil, false
			}
			p := Properties{"src": item.ImageSource}
			// A feed item without a link leaves "link" to caller overrides;
			// there is no item value to force.
			if item.Link != "" {
				p["link"] = item.Link
			}
			return p, true
		},
	})

	r.mustRegister(BlockType{
		Tag: TagContainer,
		Defaults: Properties{
			"background": "",
			"padding":    map[string]any{"top": 0, "right": 0, "bottom": 0, "left": 0},
		},
	})

	r.mustRegister(BlockType{
		Tag:    TagFeed,
		Expand: expandFeed,
	})

	r.mustRegister(BlockType{
		Tag: TagButton,
		Defaults: Properties{
			"label":      "",
			"href":       "",
			"align":      "left",
			"background": "#2f6fed",
			"color":      "#ffffff",
			"radius":     4,
		},
	})

	r.mustRegister(BlockType{
		Tag: TagDivider,
		Defaults: Properties{
			"color":   "#e4e4e4",
			"spacing": 16,
		},
	})

	return r
}
