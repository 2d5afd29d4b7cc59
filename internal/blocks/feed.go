package blocks

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DefaultChildPolicy is the child-type sequence a feed block instantiates per
// item when it declares no blocks property.
var DefaultChildPolicy = []string{TagHeading, TagHTML, TagImage}

// expandFeed is the registered ExpandFunc for the feed type: it turns one
// declarative feed block into an ordered sequence of per-item containers,
// spliced into the tree at the feed block's position. The output carries no
// trace of the feed block; expanded containers are indistinguishable from
// hand-authored ones.
func expandFeed(ctx context.Context, b *Builder, def *BlockDefinition, path Path) ([]*Block, error) {
	source, err := feedSource(def, path)
	if err != nil {
		return nil, err
	}

	policy, err := childPolicy(b.registry, def, path)
	if err != nil {
		return nil, err
	}

	containerEntry, ok := b.registry.Lookup(TagContainer)
	if !ok {
		return nil, newInvalidDefinitionError(
			"feed expansion requires the container block type to be registered", path, nil)
	}
	containerOverride, err := overrideFor(def, TagContainer, path)
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]Properties, len(policy))
	for _, tag := range policy {
		o, err := overrideFor(def, tag, path)
		if err != nil {
			return nil, err
		}
		overrides[tag] = o
	}

	// The fetch is the one suspending step: it honors ctx so a cancelled
	// document build aborts in-flight network work. Everything after it is
	// strictly sequential for this feed block.
	items, err := b.source.Fetch(ctx, source)
	if err != nil {
		return nil, NewFeedFetchError(source, path, err)
	}
	b.logger.Info("feed fetched", "source", source, "items", len(items), "path", path.String())
	if len(items) == 0 {
		// A valid, empty feed contributes nothing; not an error.
		return nil, nil
	}

	// Feed order is authoritative: one container per item, children in policy
	// order, never reordered or deduplicated.
	out := make([]*Block, 0, len(items))
	for _, item := range items {
		container := &Block{
			Type:       TagContainer,
			Properties: Resolve(containerEntry.Defaults, containerOverride, nil),
			// The feed block's own predicate survives on each expansion
			// container, so "this feed only on mobile" keeps meaning
			// something after the feed block itself is gone.
			Visibility: def.Visibility.Clone(),
		}
		for _, tag := range policy {
			entry, _ := b.registry.Lookup(tag)
			computed, include := entry.Synthesize(item)
			if !include {
				continue
			}
			container.Children = append(container.Children, &Block{
				Type:       tag,
				Properties: Resolve(entry.Defaults, overrides[tag], computed),
			})
		}
		out = append(out, container)
	}
	return out, nil
}

// feedSource extracts and validates the required source property.
func feedSource(def *BlockDefinition, path Path) (string, error) {
	raw, ok := def.Properties["source"]
	if !ok {
		return "", NewMissingPropertyError("source", path)
	}
	s, ok := raw.(string)
	if !ok {
		return "", newInvalidDefinitionError(
			`feed "source" must be a string`, path, map[string]any{"property": "source"})
	}
	if strings.TrimSpace(s) == "" {
		return "", NewMissingPropertyError("source", path)
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return "", newInvalidDefinitionError(
			`feed "source" is not a valid URI`, path,
			map[string]any{"property": "source", "value": s})
	}
	return s, nil
}

// childPolicy derives the ordered child-type list from the blocks property,
// defaulting to DefaultChildPolicy. Every tag must name a registered,
// feed-synthesizable type; a duplicated tag is a configuration error.
func childPolicy(reg *Registry, def *BlockDefinition, path Path) ([]string, error) {
	raw, declared := def.Properties["blocks"]
	if !declared {
		return DefaultChildPolicy, nil
	}

	var policy []string
	switch list := raw.(type) {
	case []string:
		policy = list
	case []any:
		policy = make([]string, 0, len(list))
		for _, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, newInvalidDefinitionError(
					`feed "blocks" entries must be type tags (strings)`, path,
					map[string]any{"property": "blocks"})
			}
			policy = append(policy, s)
		}
	default:
		return nil, newInvalidDefinitionError(
			`feed "blocks" must be an array of type tags`, path,
			map[string]any{"property": "blocks"})
	}

	seen := make(map[string]struct{}, len(policy))
	for _, tag := range policy {
		if _, dup := seen[tag]; dup {
			return nil, newDuplicatePolicyError(tag, path)
		}
		seen[tag] = struct{}{}
		entry, ok := reg.Lookup(tag)
		if !ok || entry.Synthesize == nil {
			return nil, NewInvalidChildPolicyError(tag, path)
		}
	}
	return policy, nil
}

// overrideFor reads the feed block's override object for a child type slot.
// Absent is fine (nil overrides); present but non-mapping is a configuration
// error rather than something to silently ignore.
func overrideFor(def *BlockDefinition, tag string, path Path) (Properties, error) {
	raw, ok := def.Properties[tag]
	if !ok {
		return nil, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return nil, newInvalidDefinitionError(
			fmt.Sprintf("feed override object for %q must be a mapping", tag), path,
			map[string]any{"property": tag})
	}
	return Properties(m), nil
}
