package overlay

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/yousuf/failfast/internal/stackframe"
)

// ErrRender wraps a panic raised while building or attaching the overlay
var ErrRender = errors.New("failed to render overlay")

// OverlayID is the id attribute of the mounted overlay node
const OverlayID = "failfast-overlay"

// Report is what a crash screen shows. It is built once per crash and
// consumed by a single Mount.
type Report struct {
	ID      string
	Title   string
	Message string
	Frames  []stackframe.Frame
}

// Header returns the "title: message" line shown at the top of the overlay
func (r Report) Header() string {
	return fmt.Sprintf("%s: %s", r.Title, r.Message)
}

// View owns the single overlay node of a document.
// Mount replaces any active overlay, so at most one is ever attached.
type View struct {
	mu     sync.Mutex
	doc    *Document
	styles Styles

	node   *html.Node
	active *Report
}

// NewView creates a view that mounts into doc
func NewView(doc *Document, styles Styles) *View {
	return &View{
		doc:    doc,
		styles: styles,
	}
}

// Mount shows report, replacing whatever overlay is currently shown
func (v *View) Mount(report Report) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrRender, rec)
		}
	}()

	v.unmountLocked()

	body := v.doc.Body()
	if body == nil {
		return ErrNoBody
	}

	overlay := v.doc.CreateElement("div")
	setAttr(overlay, "id", OverlayID)
	if report.ID != "" {
		setAttr(overlay, "data-report-id", report.ID)
	}
	ApplyStyles(overlay, v.styles.Overlay)

	header := v.doc.CreateElement("div")
	ApplyStyles(header, v.styles.Header)
	header.AppendChild(v.doc.CreateTextNode(report.Header()))
	overlay.AppendChild(header)

	trace := v.doc.CreateElement("div")
	ApplyStyles(trace, v.styles.Trace)
	for _, frame := range report.Frames {
		elem := v.doc.CreateElement("div")
		elem.AppendChild(v.doc.CreateTextNode("\t" + stackframe.FormatFrame(frame)))
		trace.AppendChild(elem)
	}
	overlay.AppendChild(trace)

	body.AppendChild(overlay)
	v.node = overlay
	v.active = &report
	return nil
}

// Unmount removes the active overlay. Without one it does nothing.
func (v *View) Unmount() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unmountLocked()
}

func (v *View) unmountLocked() {
	if v.node == nil {
		return
	}
	if v.node.Parent != nil {
		v.node.Parent.RemoveChild(v.node)
	}
	v.node = nil
	v.active = nil
}

// Active returns the report currently on screen
func (v *View) Active() (Report, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == nil {
		return Report{}, false
	}
	return *v.active, true
}

// Text returns the visible overlay as plain text, "" when nothing is mounted
func (v *View) Text() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.node == nil {
		return ""
	}

	var b strings.Builder
	for section := v.node.FirstChild; section != nil; section = section.NextSibling {
		if section == v.node.FirstChild {
			b.WriteString(textContent(section))
			b.WriteString("\n")
			continue
		}
		for line := section.FirstChild; line != nil; line = line.NextSibling {
			b.WriteString(textContent(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// HTML renders the whole document, overlay included
func (v *View) HTML() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var b strings.Builder
	if err := v.doc.Render(&b); err != nil {
		return "", fmt.Errorf("failed to render document: %w", err)
	}
	return b.String(), nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
