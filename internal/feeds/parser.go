package feeds

import (
	"bytes"
	"cmp"
	"strings"

	"github.com/mmcdole/gofeed"

	"mailsmith/internal/types"
)

// Parser normalizes RSS/Atom/JSON-feed payloads into the Item shape the
// expansion engine consumes. gofeed handles format detection; the few mapping
// decisions (body preference, image extraction) live here.
type Parser struct {
	gofeedParser *gofeed.Parser
}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Parse decodes a raw feed document. Items come back in document order; the
// parser never sorts, filters, or deduplicates.
func (p *Parser) Parse(data []byte) ([]Item, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamFeed, "feed document is not parseable", err)
	}

	items := make([]Item, 0, len(feed.Items))
	for _, item := range feed.Items {
		items = append(items, normalizeItem(item))
	}

	return items, nil
}

func normalizeItem(item *gofeed.Item) Item {
	return Item{
		Title:       strings.TrimSpace(item.Title),
		Body:        cmp.Or(item.Content, item.Description),
		ImageSource: extractImage(item),
		Link:        item.Link,
	}
}

// extractImage picks the item's illustration: an explicit item image wins,
// otherwise the first enclosure with an image media type (RSS 2.0 allows only
// one enclosure per item, but aggregators emit several).
func extractImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
