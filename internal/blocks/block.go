package blocks

import (
	"fmt"
	"strings"
)

// Tags of the builtin block types. The registry is open-ended; these constants
// exist so builtin behavior (feed expansion, per-item containers) and callers
// share one spelling.
const (
	TagHeading   = "heading"
	TagHTML      = "html"
	TagImage     = "image"
	TagFeed      = "feed"
	TagContainer = "container"
	TagButton    = "button"
	TagDivider   = "divider"
)

// Block is a typed node in a built document tree. By the time a Block exists
// its Properties have been through exactly one resolution pass (type defaults,
// caller overrides, computed fields); consumers never apply defaults.
type Block struct {
	Type       string      `json:"type"`
	Properties Properties  `json:"properties,omitempty"`
	Children   []*Block    `json:"children,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
}

// Document is the final tree handed to the renderer: envelope fields plus the
// ordered top-level blocks. The document exclusively owns every Block beneath
// it; no node is shared between two parents.
type Document struct {
	From    string   `json:"from"`
	Subject string   `json:"subject"`
	Blocks  []*Block `json:"blocks"`
}

// Path locates a block inside a definition for error reporting: the chain of
// ancestor type tags with sibling indices, e.g. "container[0].feed[2]". The
// zero value addresses the document root.
type Path []string

// Child returns the path extended by one block. The receiver is copied, not
// aliased, because sibling builds branch from the same parent path.
func (p Path) Child(tag string, index int) Path {
	next := make(Path, len(p), len(p)+1)
	copy(next, p)
	if tag == "" {
		tag = "?"
	}
	return append(next, fmt.Sprintf("%s[%d]", tag, index))
}

// String renders the path in dotted form.
func (p Path) String() string {
	if len(p) == 0 {
		return "document"
	}
	return strings.Join([]string(p), ".")
}
