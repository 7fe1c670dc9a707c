package feed

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// xmlShapes are the common feed layouts, tried in order. Each path starts
// at the document element and ends at the repeated item element.
var xmlShapes = [][]string{
	{"products", "product"},
	{"rss", "channel", "item"},
	{"catalog", "product"},
	{"feed", "entry"},
	{"items", "item"},
	{"offers", "offer"},
	{"yml_catalog", "shop", "offers", "offer"},
}

// xmlParser holds the parsed tree and yields one record per item element.
type xmlParser struct {
	items []*xmlquery.Node
	pos   int
}

// newXMLParser buffers at most limit bytes of r and parses them. Larger
// documents fail with ErrFeedTooLarge before anything is parsed.
func newXMLParser(r io.Reader, limit int64) (Parser, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read xml feed: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: xml feed exceeds %d bytes", ErrFeedTooLarge, limit)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFeed, err)
	}
	return &xmlParser{items: FindItems(doc)}, nil
}

func (p *xmlParser) Next() (Record, error) {
	if p.pos >= len(p.items) {
		return Record{}, io.EOF
	}
	n := p.items[p.pos]
	rec := nodeRecord(p.pos, n)
	p.pos++
	return rec, nil
}

// FindItems returns the repeated item elements of a parsed feed: the first
// known shape that matches, otherwise the first run of two or more
// same-named sibling elements found depth-first. It returns nil when the
// document has no repeated element. The fallback can pick the wrong list
// for unusual schemas.
func FindItems(doc *xmlquery.Node) []*xmlquery.Node {
	root := firstElement(doc)
	if root == nil {
		return nil
	}
	for _, shape := range xmlShapes {
		if items := matchShape(root, shape); len(items) > 0 {
			return items
		}
	}
	return firstRepeated(root)
}

func matchShape(root *xmlquery.Node, shape []string) []*xmlquery.Node {
	if !strings.EqualFold(root.Data, shape[0]) {
		return nil
	}
	parent := root
	for _, name := range shape[1 : len(shape)-1] {
		parent = childNamed(parent, name)
		if parent == nil {
			return nil
		}
	}
	return childrenNamed(parent, shape[len(shape)-1])
}

func firstRepeated(n *xmlquery.Node) []*xmlquery.Node {
	counts := make(map[string]int)
	var order []string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if counts[c.Data] == 0 {
			order = append(order, c.Data)
		}
		counts[c.Data]++
	}
	for _, name := range order {
		if counts[name] >= 2 {
			return childrenNamed(n, name)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		if items := firstRepeated(c); len(items) > 0 {
			return items
		}
	}
	return nil
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

func childNamed(n *xmlquery.Node, name string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && strings.EqualFold(c.Data, name) {
			return c
		}
	}
	return nil
}

func childrenNamed(n *xmlquery.Node, name string) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && strings.EqualFold(c.Data, name) {
			out = append(out, c)
		}
	}
	return out
}

// nodeRecord flattens an item element: attributes first, then child
// elements by local name. Children with their own children become nested
// maps.
func nodeRecord(index int, n *xmlquery.Node) Record {
	rec := newRecord(index)
	for _, a := range n.Attr {
		rec.set(a.Name.Local, a.Value)
	}
	hasChild := false
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		hasChild = true
		rec.set(c.Data, elementValue(c))
	}
	if !hasChild {
		if text := strings.TrimSpace(n.InnerText()); text != "" {
			rec.set("value", text)
		}
	}
	return rec
}

func elementValue(n *xmlquery.Node) any {
	if firstElement(n) == nil {
		text := strings.TrimSpace(n.InnerText())
		if text == "" && len(n.Attr) > 0 {
			m := make(map[string]any, len(n.Attr))
			for _, a := range n.Attr {
				m[a.Name.Local] = a.Value
			}
			return m
		}
		return text
	}

	nested := nodeRecord(0, n)
	return nested.Values
}
