package overlay

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// Declaration is a single CSS property assignment
type Declaration struct {
	Property string
	Value    string
}

// Style is an ordered list of declarations applied to one node
type Style []Declaration

// Styles holds the three style tables of the crash screen
type Styles struct {
	Overlay Style
	Header  Style
	Trace   Style
}

// DefaultStyles returns the stock crash screen look: a fixed, full-viewport red
// panel with a bold header and a monospace trace.
func DefaultStyles() Styles {
	return Styles{
		Overlay: Style{
			{"position", "fixed"},
			{"box-sizing", "border-box"},
			{"top", "0px"},
			{"left", "0px"},
			{"bottom", "0px"},
			{"right", "0px"},
			{"width", "100vw"},
			{"height", "100vh"},
			{"background-color", "rgb(200, 0, 0)"},
			{"padding", "2rem"},
			{"z-index", "1337"},
			{"font-family", "Menlo, Consolas, monospace"},
			{"color", "rgb(232, 232, 232)"},
			{"white-space", "pre-wrap"},
			{"overflow", "auto"},
		},
		Header: Style{
			{"font-size", "larger"},
			{"font-weight", "bold"},
		},
		Trace: Style{
			{"font-size", "1rem"},
		},
	}
}

// String renders the style as an inline style attribute value
func (s Style) String() string {
	parts := make([]string, 0, len(s))
	for _, d := range s {
		parts = append(parts, d.Property+": "+d.Value)
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

// With returns a copy of s where existing properties take their override value
// and new properties are appended in name order.
func (s Style) With(overrides map[string]string) Style {
	out := make(Style, len(s))
	copy(out, s)

	seen := make(map[string]bool, len(out))
	for i := range out {
		seen[out[i].Property] = true
		if v, ok := overrides[out[i].Property]; ok {
			out[i].Value = v
		}
	}

	extra := make([]string, 0)
	for property := range overrides {
		if !seen[property] {
			extra = append(extra, property)
		}
	}
	sort.Strings(extra)
	for _, property := range extra {
		out = append(out, Declaration{Property: property, Value: overrides[property]})
	}
	return out
}

// ApplyStyles replaces the inline style of n with s; declarations from a
// previous call do not survive.
func ApplyStyles(n *html.Node, s Style) {
	setAttr(n, "style", s.String())
}
