package stackframe

// Frame represents a single stack frame. Raw frames come out of Parser;
// resolved frames come out of a source-map lookup and share the same shape,
// pointing at original (pre-build) locations instead.
type Frame struct {
	// Function name, nil when the frame is anonymous
	FunctionName *string
	// Source file path or URL
	FileName string
	// Line number (1-indexed), 0 if not available
	LineNumber int
	// Column number (1-indexed), nil if not available
	ColumnNumber *int
	// The raw line from the stack trace, nil for synthesized frames
	Source *string
	// Whether this is a native call
	IsNative bool
}

// HasPosition reports whether the frame carries a usable generated position
func (f Frame) HasPosition() bool {
	return !f.IsNative && f.FileName != "" && f.LineNumber > 0
}

// Name returns the function name or "" for anonymous frames
func (f Frame) Name() string {
	if f.FunctionName == nil {
		return ""
	}
	return *f.FunctionName
}

// Column returns the 1-indexed column or 0 when unknown
func (f Frame) Column() int {
	if f.ColumnNumber == nil {
		return 0
	}
	return *f.ColumnNumber
}

// Ptr returns a pointer to v; used to fill optional frame fields.
func Ptr[T any](v T) *T {
	return &v
}
