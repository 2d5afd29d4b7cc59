package blocks

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"mailsmith/internal/types"
)

// Definition is the top-level declarative description of a document: envelope
// fields plus the ordered block descriptions under content.blocks. One type
// serves both wire formats (JSON over the API, YAML for file-based authoring).
type Definition struct {
	From    string            `json:"from" yaml:"from"`
	Subject string            `json:"subject" yaml:"subject"`
	Content ContentDefinition `json:"content" yaml:"content"`
}

// ContentDefinition holds the ordered top-level block descriptions.
type ContentDefinition struct {
	Blocks []BlockDefinition `json:"blocks" yaml:"blocks"`
}

// BlockDefinition is one node of the input document: a mandatory type tag,
// the type-specific properties, optionally declared children, and an optional
// visibility predicate.
//
// On the wire a description is a flat object: `type` and `visibility` are
// reserved keys, `blocks` declares children (full child objects) for every
// type except feed, where `blocks` is the child policy (an array of type
// tags) and stays a property. Everything else lands in Properties untouched.
type BlockDefinition struct {
	Type       string
	Properties Properties
	Children   []BlockDefinition
	Visibility *Visibility
}

// UnmarshalJSON implements the flat wire shape described on BlockDefinition.
func (d *BlockDefinition) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := BlockDefinition{Properties: Properties{}}

	// Type first: interpreting the blocks key depends on it.
	if rawType, ok := raw["type"]; ok {
		if err := json.Unmarshal(rawType, &out.Type); err != nil {
			return fmt.Errorf("block type: %w", err)
		}
	}

	for key, val := range raw {
		switch key {
		case "type":
			// handled above
		case "visibility":
			var v Visibility
			if err := json.Unmarshal(val, &v); err != nil {
				return fmt.Errorf("block visibility: %w", err)
			}
			out.Visibility = &v
		case "blocks":
			if out.Type != TagFeed {
				var children []BlockDefinition
				if err := json.Unmarshal(val, &children); err == nil {
					out.Children = children
					continue
				}
			}
			if err := decodeJSONProperty(&out, key, val); err != nil {
				return err
			}
		default:
			if err := decodeJSONProperty(&out, key, val); err != nil {
				return err
			}
		}
	}

	*d = out
	return nil
}

func decodeJSONProperty(out *BlockDefinition, key string, val json.RawMessage) error {
	var generic any
	if err := json.Unmarshal(val, &generic); err != nil {
		return fmt.Errorf("block property %q: %w", key, err)
	}
	out.Properties[key] = generic
	return nil
}

// UnmarshalYAML implements the same flat wire shape for YAML definitions.
func (d *BlockDefinition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("block description must be a mapping, got %s", yamlKindName(node.Kind))
	}

	out := BlockDefinition{Properties: Properties{}}

	// Type first, same as the JSON path.
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "type" {
			if err := node.Content[i+1].Decode(&out.Type); err != nil {
				return fmt.Errorf("block type: %w", err)
			}
			break
		}
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]
		switch key {
		case "type":
			// handled above
		case "visibility":
			var v Visibility
			if err := val.Decode(&v); err != nil {
				return fmt.Errorf("block visibility: %w", err)
			}
			out.Visibility = &v
		case "blocks":
			if out.Type != TagFeed && isChildSequence(val) {
				var children []BlockDefinition
				if err := val.Decode(&children); err != nil {
					return fmt.Errorf("block children: %w", err)
				}
				out.Children = children
				continue
			}
			if err := decodeYAMLProperty(&out, key, val); err != nil {
				return err
			}
		default:
			if err := decodeYAMLProperty(&out, key, val); err != nil {
				return err
			}
		}
	}

	*d = out
	return nil
}

func decodeYAMLProperty(out *BlockDefinition, key string, val *yaml.Node) error {
	var generic any
	if err := val.Decode(&generic); err != nil {
		return fmt.Errorf("block property %q: %w", key, err)
	}
	out.Properties[key] = generic
	return nil
}

// isChildSequence reports whether a blocks node holds child objects rather
// than a tag list: empty sequences count as (empty) children, mirroring the
// JSON decoder.
func isChildSequence(node *yaml.Node) bool {
	if node.Kind != yaml.SequenceNode {
		return false
	}
	if len(node.Content) == 0 {
		return true
	}
	return node.Content[0].Kind == yaml.MappingNode
}

func yamlKindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// ParseDefinition decodes and validates a JSON document definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, types.NewAppError(types.ErrCodeInvalidDefinition, "definition is not valid JSON", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// ParseDefinitionYAML decodes and validates a YAML document definition.
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.NewAppError(types.ErrCodeInvalidDefinition, "definition is not valid YAML", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition envelope. Block-level problems (unknown
// types, missing feed sources) surface at build time with their path; only
// the top-level shape is checked here.
func (d *Definition) Validate() error {
	if d.From == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeInvalidDefinition,
			`definition missing required field "from"`, nil, map[string]any{"field": "from"})
	}
	if d.Subject == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeInvalidDefinition,
			`definition missing required field "subject"`, nil, map[string]any{"field": "subject"})
	}
	return nil
}
