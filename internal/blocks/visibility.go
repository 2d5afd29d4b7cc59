package blocks

import (
	"slices"

	"mailsmith/internal/types"
)

// Visibility is the optional predicate restricting where a block is shown.
// Each axis is independent; an empty axis places no constraint. A nil
// *Visibility means "always visible".
type Visibility struct {
	Devices  []string          `json:"devices,omitempty" yaml:"devices,omitempty"`
	Clients  []string          `json:"clients,omitempty" yaml:"clients,omitempty"`
	Receiver map[string]string `json:"receiver,omitempty" yaml:"receiver,omitempty"`
}

// Clone returns an independent copy. Nil-safe.
func (v *Visibility) Clone() *Visibility {
	if v == nil {
		return nil
	}
	out := &Visibility{
		Devices: slices.Clone(v.Devices),
		Clients: slices.Clone(v.Clients),
	}
	if v.Receiver != nil {
		out.Receiver = make(map[string]string, len(v.Receiver))
		for k, val := range v.Receiver {
			out.Receiver[k] = val
		}
	}
	return out
}

// Matches reports whether the render context satisfies the predicate. The
// three axes combine as a conjunction: device must be in the device set,
// client in the client set, and every receiver condition must hold; an
// absent axis is unconstrained.
func (v *Visibility) Matches(rc types.RenderContext) bool {
	if v == nil {
		return true
	}
	if len(v.Devices) > 0 && !slices.Contains(v.Devices, rc.Device) {
		return false
	}
	if len(v.Clients) > 0 && !slices.Contains(v.Clients, rc.Client) {
		return false
	}
	for attr, want := range v.Receiver {
		if rc.Receiver[attr] != want {
			return false
		}
	}
	return true
}

// FilterDocument returns a pruned copy of the document containing only blocks
// whose visibility predicates pass for the render context. The input is never
// mutated; kept nodes are shallow-copied with filtered children, sharing the
// (read-only) resolved property sets.
func FilterDocument(doc *Document, rc types.RenderContext) *Document {
	if doc == nil {
		return nil
	}
	return &Document{
		From:    doc.From,
		Subject: doc.Subject,
		Blocks:  filterBlocks(doc.Blocks, rc),
	}
}

// filterBlocks prunes top-down: a failing parent drops its whole subtree
// without evaluating any child predicate.
func filterBlocks(blks []*Block, rc types.RenderContext) []*Block {
	if len(blks) == 0 {
		return nil
	}
	out := make([]*Block, 0, len(blks))
	for _, blk := range blks {
		if !blk.Visibility.Matches(rc) {
			continue
		}
		out = append(out, &Block{
			Type:       blk.Type,
			Properties: blk.Properties,
			Children:   filterBlocks(blk.Children, rc),
			Visibility: blk.Visibility,
		})
	}
	return out
}
