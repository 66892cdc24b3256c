package overlay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ErrNoBody is returned when the document has no <body> to mount into
var ErrNoBody = errors.New("document has no body")

// Document is the presentation context an overlay is mounted into
type Document struct {
	root *html.Node
	body *html.Node
}

// NewDocument creates an empty HTML document with the given title
func NewDocument(title string) *Document {
	src := "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>" +
		html.EscapeString(title) +
		"</title></head><body></body></html>"

	doc, err := ParseDocument(strings.NewReader(src))
	if err != nil {
		// The source above is static and always parses
		panic(fmt.Sprintf("overlay: building empty document: %v", err))
	}
	return doc
}

// ParseDocument wraps an existing HTML page so overlays can be mounted into it
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{
		root: root,
		body: findElement(root, atom.Body),
	}, nil
}

// Body returns the <body> element, or nil if the document has none
func (d *Document) Body() *html.Node {
	return d.body
}

// CreateElement creates a detached element node
func (d *Document) CreateElement(tag string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}
}

// CreateTextNode creates a detached text node
func (d *Document) CreateTextNode(text string) *html.Node {
	return &html.Node{
		Type: html.TextNode,
		Data: text,
	}
}

// Render writes the document as HTML
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

// String renders the document; render errors yield an empty string
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}
