package blocks

import (
	"fmt"

	"mailsmith/internal/types"
)

// Build errors carry the failing block's path in Details["path"] so a large
// document can be debugged without dumping the tree.

// NewUnknownBlockTypeError reports a description using an unregistered type tag.
func NewUnknownBlockTypeError(tag string, path Path) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeUnknownBlockType,
		fmt.Sprintf("unknown block type %q", tag),
		nil,
		map[string]any{"tag": tag, "path": path.String()},
	)
}

// NewMissingPropertyError reports an absent required property, e.g. a feed
// block without source.
func NewMissingPropertyError(property string, path Path) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeMissingProperty,
		fmt.Sprintf("required property %q is missing", property),
		nil,
		map[string]any{"property": property, "path": path.String()},
	)
}

// NewInvalidChildPolicyError reports a feed child policy entry that names a
// type the expander cannot synthesize.
func NewInvalidChildPolicyError(tag string, path Path) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInvalidChildPolicy,
		fmt.Sprintf("feed child policy cannot synthesize type %q", tag),
		nil,
		map[string]any{"tag": tag, "path": path.String()},
	)
}

// newDuplicatePolicyError reports a tag listed more than once in a feed child
// policy. Same code as NewInvalidChildPolicyError; duplicates are a
// configuration error, not a way to repeat a child per item.
func newDuplicatePolicyError(tag string, path Path) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInvalidChildPolicy,
		fmt.Sprintf("feed child policy lists type %q more than once", tag),
		nil,
		map[string]any{"tag": tag, "path": path.String()},
	)
}

// NewFeedFetchError wraps a Feed Source Adapter failure. The document build
// fails visibly; an unreachable feed never silently renders as empty.
func NewFeedFetchError(source string, path Path, cause error) *types.AppError {
	return types.NewAppErrorWithDetails(
		types.ErrCodeFeedFetchFailed,
		fmt.Sprintf("failed to fetch feed %q", source),
		cause,
		map[string]any{"source": source, "path": path.String()},
	)
}

// newInvalidDefinitionError reports a structurally unusable definition detail
// (non-mapping override object, malformed source URI, non-string policy entry).
func newInvalidDefinitionError(message string, path Path, details map[string]any) *types.AppError {
	merged := map[string]any{"path": path.String()}
	for k, v := range details {
		merged[k] = v
	}
	return types.NewAppErrorWithDetails(types.ErrCodeInvalidDefinition, message, nil, merged)
}
