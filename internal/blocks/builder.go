package blocks

import (
	"context"

	"golang.org/x/sync/errgroup"

	"mailsmith/internal/feeds"
	"mailsmith/internal/types"
)

// Builder composes document trees from declarative definitions: the factory
// that resolves properties, recurses through declared children, and hands
// expansion-type blocks (feed) to their registered expander.
type Builder struct {
	registry *Registry
	source   feeds.Source
	logger   types.Logger
}

// NewBuilder creates a Builder. The registry must be fully populated; the
// source is the Feed Source Adapter used by feed expansion.
func NewBuilder(registry *Registry, source feeds.Source, logger types.Logger) *Builder {
	return &Builder{
		registry: registry,
		source:   source,
		logger:   logger,
	}
}

// Registry exposes the builder's type registry, for introspection endpoints.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// BuildDocument builds the complete tree for a definition. On any failure the
// whole build fails with a single error carrying the failing block's path;
// a partially expanded tree is never returned.
func (b *Builder) BuildDocument(ctx context.Context, def *Definition) (*Document, error) {
	if def == nil {
		return nil, types.NewAppError(types.ErrCodeInvalidDefinition, "definition is nil", nil)
	}
	built, err := b.buildSequence(ctx, def.Content.Blocks, Path{})
	if err != nil {
		return nil, err
	}
	return &Document{
		From:    def.From,
		Subject: def.Subject,
		Blocks:  built,
	}, nil
}

// buildSequence builds one ordered level of sibling descriptions.
//
// Document order is an observable contract: results are collected into
// position-indexed slots and spliced in declaration order. Within the level,
// expansion-type blocks (network-bound feed fetches) run concurrently in an
// errgroup while ordinary blocks build sequentially depth-first; the group
// context cancels in-flight fetches as soon as any sibling fails.
func (b *Builder) buildSequence(ctx context.Context, defs []BlockDefinition, path Path) ([]*Block, error) {
	if len(defs) == 0 {
		return nil, nil
	}

	results := make([][]*Block, len(defs))
	g, gctx := errgroup.WithContext(ctx)

	type pending struct {
		index int
		def   *BlockDefinition
	}
	var ordinary []pending

	for i := range defs {
		def := &defs[i]
		if entry, ok := b.registry.Lookup(def.Type); ok && entry.Expand != nil {
			index := i
			expand := entry.Expand
			childPath := path.Child(def.Type, i)
			g.Go(func() error {
				expanded, err := expand(gctx, b, def, childPath)
				if err != nil {
					return err
				}
				results[index] = expanded
				return nil
			})
			continue
		}
		ordinary = append(ordinary, pending{index: i, def: def})
	}

	g.Go(func() error {
		for _, p := range ordinary {
			blk, err := b.buildBlock(gctx, p.def, path.Child(p.def.Type, p.index))
			if err != nil {
				return err
			}
			results[p.index] = []*Block{blk}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*Block, 0, len(defs))
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

// buildBlock builds one non-expansion block: resolve properties against the
// type's defaults (no computed fields outside synthesis), then recurse into
// declared children in declared order.
func (b *Builder) buildBlock(ctx context.Context, def *BlockDefinition, path Path) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if def.Type == "" {
		return nil, NewMissingPropertyError("type", path)
	}
	entry, ok := b.registry.Lookup(def.Type)
	if !ok {
		return nil, NewUnknownBlockTypeError(def.Type, path)
	}

	blk := &Block{
		Type:       def.Type,
		Properties: Resolve(entry.Defaults, def.Properties, nil),
		Visibility: def.Visibility.Clone(),
	}

	if len(def.Children) > 0 {
		children, err := b.buildSequence(ctx, def.Children, path)
		if err != nil {
			return nil, err
		}
		blk.Children = children
	}
	return blk, nil
}
