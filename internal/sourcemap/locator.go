package sourcemap

import (
	"context"
	"fmt"

	"github.com/yousuf/failfast/internal/stackframe"
)

// Locator maps generated stack frames to their original source positions
type Locator struct {
	store *Store
}

// NewLocator creates a locator backed by store
func NewLocator(store *Store) *Locator {
	return &Locator{store: store}
}

// Locate returns a new frame pointing at the original position of frame.
// The returned frame carries no Source, so it is displayed in synthesized form.
func (l *Locator) Locate(ctx context.Context, frame stackframe.Frame) (stackframe.Frame, error) {
	if !frame.HasPosition() {
		return frame, ErrNoPosition
	}
	if err := ctx.Err(); err != nil {
		return frame, err
	}

	consumer, err := l.store.Consumer(ctx, frame.FileName)
	if err != nil {
		return frame, err
	}

	// go-sourcemap expects 1-indexed line and 0-indexed column
	column := frame.Column() - 1
	if column < 0 {
		column = 0
	}

	file, functionName, line, col, ok := consumer.Source(frame.LineNumber, column)
	if !ok || file == "" || line <= 0 {
		return frame, fmt.Errorf("%w %s:%d:%d", ErrNoMapping, frame.FileName, frame.LineNumber, frame.Column())
	}

	mapped := stackframe.Frame{
		FunctionName: frame.FunctionName,
		FileName:     file,
		LineNumber:   line,
		ColumnNumber: stackframe.Ptr(col + 1),
	}
	if functionName != "" {
		mapped.FunctionName = stackframe.Ptr(functionName)
	}
	return mapped, nil
}
