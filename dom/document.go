// Package dom is a thin layer over golang.org/x/net/html giving the handful of
// DOM operations style injection and element picking need.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

// Document is parsed HTML document. Root is always html.DocumentNode.
type Document struct {
	Root *html.Node
}

// Parse reads HTML document converting it to UTF-8. Encoding is determined
// from contentType, BOM and <meta> elements, see charset.NewReader.
func Parse(r io.Reader, contentType string) (*Document, error) {
	cr, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("unable to detect document encoding: %w", err)
	}
	return parse(cr)
}

// ParseWithEncoding reads HTML document in forced encoding.
func ParseWithEncoding(r io.Reader, enc encoding.Encoding) (*Document, error) {
	return parse(enc.NewDecoder().Reader(r))
}

func ParseString(s string) (*Document, error) {
	return parse(strings.NewReader(s))
}

func parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("unable to parse document: %w", err)
	}
	return &Document{Root: root}, nil
}

// DocumentElement returns <html> element.
func (d *Document) DocumentElement() *html.Node {
	for c := d.Root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func (d *Document) child(a atom.Atom) *html.Node {
	de := d.DocumentElement()
	if de == nil {
		return nil
	}
	for c := de.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}

// Head returns <head> element creating it when document has none.
func (d *Document) Head() *html.Node {
	if h := d.child(atom.Head); h != nil {
		return h
	}
	de := d.DocumentElement()
	if de == nil {
		de = CreateElement("html")
		d.Root.AppendChild(de)
	}
	h := CreateElement("head")
	de.InsertBefore(h, de.FirstChild)
	return h
}

// Body returns <body> element or nil for frameset documents.
func (d *Document) Body() *html.Node {
	return d.child(atom.Body)
}

// ElementByID returns first element in document order with given id.
func (d *Document) ElementByID(id string) *html.Node {
	if len(id) == 0 {
		return nil
	}
	var found *html.Node
	Walk(d.Root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && ID(n) == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// QuerySelector returns first element matching CSS selector or nil.
func (d *Document) QuerySelector(sel string) (*html.Node, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("bad selector %q: %w", sel, err)
	}
	return s.MatchFirst(d.Root), nil
}

// QuerySelectorAll returns all elements matching CSS selector in document order.
func (d *Document) QuerySelectorAll(sel string) ([]*html.Node, error) {
	s, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("bad selector %q: %w", sel, err)
	}
	return s.MatchAll(d.Root), nil
}

// Contains reports whether n is attached to the document.
func (d *Document) Contains(n *html.Node) bool {
	return IsAncestor(d.Root, n)
}

func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.Root)
}

func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}
