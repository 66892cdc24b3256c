package stackframe

import (
	"fmt"
	"strings"
)

// FormatFrame converts one frame into a display line.
//
// Frames that still carry their raw stack line are shown verbatim. Otherwise a
// line is synthesized from function, file and line; source-mapped frames do not
// carry reliable columns, so columns are never shown.
func FormatFrame(frame Frame) string {
	if frame.Source != nil {
		return strings.TrimSpace(*frame.Source)
	}

	if name := frame.Name(); name != "" {
		return fmt.Sprintf("at %s (%s:%d)", name, frame.FileName, frame.LineNumber)
	}
	return fmt.Sprintf("at %s:%d", frame.FileName, frame.LineNumber)
}

// FormatTrace formats frames in order, one line per frame
func FormatTrace(frames []Frame) []string {
	lines := make([]string, len(frames))
	for i, frame := range frames {
		lines[i] = FormatFrame(frame)
	}
	return lines
}
