// Package resolver turns a JavaScript error into an ordered sequence of
// source-mapped stack frames.
//
// Resolution degrades instead of failing: a stack that cannot be parsed yields
// no frames, a frame whose lookup fails is kept in its raw form, and a failure
// while issuing lookups falls back to the raw frames. Output order always
// matches the order of the parsed stack.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/metrics"
	"github.com/yousuf/failfast/internal/stackframe"
)

// ErrPanic wraps a panic recovered from a capability
var ErrPanic = errors.New("capability panicked")

// StackParser converts an error into raw frames. It may fail or panic.
type StackParser interface {
	Parse(err *jserror.Error) ([]stackframe.Frame, error)
}

// FrameLocator maps one raw frame to its original position. It may fail or panic.
type FrameLocator interface {
	Locate(ctx context.Context, frame stackframe.Frame) (stackframe.Frame, error)
}

// Options tunes the fan-out
type Options struct {
	// Concurrency caps in-flight lookups; 0 means one goroutine per frame
	Concurrency int
	// LookupTimeout bounds each lookup; 0 waits indefinitely
	LookupTimeout time.Duration
	// Filter, when set, keeps only the frames it returns true for
	Filter func(stackframe.Frame) bool
	Logger *slog.Logger
}

// Resolver implements the parse, fan-out and join pipeline
type Resolver struct {
	parser  StackParser
	locator FrameLocator
	opts    Options
	logger  *slog.Logger
}

// New creates a resolver over the given capabilities
func New(parser StackParser, locator FrameLocator, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		parser:  parser,
		locator: locator,
		opts:    opts,
		logger:  logger,
	}
}

type lookupResult struct {
	frame stackframe.Frame
	err   error
}

// Resolve returns the frames of err, source-mapped where possible. It never fails.
func (r *Resolver) Resolve(ctx context.Context, err *jserror.Error) []stackframe.Frame {
	raw, parseErr := r.parse(err)
	if parseErr != nil {
		metrics.ParseFailures.Inc()
		r.logger.Debug("stack unavailable, rendering without trace", "error", parseErr)
		return []stackframe.Frame{}
	}
	if len(raw) == 0 {
		return raw
	}

	resolved, wireErr := r.fanOut(ctx, raw)
	if wireErr != nil {
		r.logger.Warn("frame lookup setup failed, using raw frames", "error", wireErr)
		metrics.Frames.WithLabelValues("raw").Add(float64(len(raw)))
		return raw
	}
	return resolved
}

func (r *Resolver) parse(err *jserror.Error) (frames []stackframe.Frame, parseErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			frames, parseErr = nil, fmt.Errorf("%w: parse: %v", ErrPanic, rec)
		}
	}()
	return r.parser.Parse(err)
}

// fanOut issues one lookup per frame and joins on all of them. Each branch
// writes only its own index, so completion order never affects the output.
// A panicking Filter abandons the fan-out before any lookup starts.
func (r *Resolver) fanOut(ctx context.Context, raw []stackframe.Frame) (out []stackframe.Frame, wireErr error) {
	defer func() {
		if rec := recover(); rec != nil {
			out, wireErr = nil, fmt.Errorf("%w: fan-out: %v", ErrPanic, rec)
		}
	}()

	if r.opts.Filter != nil {
		raw = filterFrames(raw, r.opts.Filter)
	}

	out = make([]stackframe.Frame, len(raw))
	var g errgroup.Group
	if r.opts.Concurrency > 0 {
		g.SetLimit(r.opts.Concurrency)
	}

	for i, frame := range raw {
		g.Go(func() error {
			out[i] = r.lookup(ctx, i, frame)
			return nil
		})
	}
	_ = g.Wait()

	return out, nil
}

func filterFrames(frames []stackframe.Frame, keep func(stackframe.Frame) bool) []stackframe.Frame {
	kept := make([]stackframe.Frame, 0, len(frames))
	for _, frame := range frames {
		if keep(frame) {
			kept = append(kept, frame)
		}
	}
	return kept
}

// KeepNonNative is a Filter that drops engine-internal frames
func KeepNonNative(frame stackframe.Frame) bool {
	return !frame.IsNative
}

// lookup resolves one frame, returning the raw frame on any failure
func (r *Resolver) lookup(ctx context.Context, index int, frame stackframe.Frame) stackframe.Frame {
	if r.opts.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.LookupTimeout)
		defer cancel()
	}

	// Buffered so an abandoned lookup can still complete and exit
	done := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- lookupResult{err: fmt.Errorf("%w: locate: %v", ErrPanic, rec)}
			}
		}()
		resolved, err := r.locator.Locate(ctx, frame)
		done <- lookupResult{frame: resolved, err: err}
	}()

	var res lookupResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = lookupResult{err: ctx.Err()}
	}

	if res.err != nil {
		metrics.Frames.WithLabelValues("raw").Inc()
		r.logger.Debug("frame lookup failed, keeping raw frame",
			"index", index,
			"file", frame.FileName,
			"line", frame.LineNumber,
			"error", res.err,
		)
		return frame
	}

	metrics.Frames.WithLabelValues("mapped").Inc()
	return res.frame
}
