// Package crash drives a JavaScript error from interception to an on-screen
// crash report. Nothing in this package returns an error to its caller: every
// failure ends in either the real report or the fixed fallback report.
package crash

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/metrics"
	"github.com/yousuf/failfast/internal/overlay"
	"github.com/yousuf/failfast/internal/stackframe"
)

const (
	fallbackTitle   = "Error"
	fallbackMessage = "Unknown Error (failure to materialize)"
)

// FrameResolver produces the resolved frames of an error
type FrameResolver interface {
	Resolve(ctx context.Context, err *jserror.Error) []stackframe.Frame
}

// Mounter shows a report
type Mounter interface {
	Mount(report overlay.Report) error
}

// Controller receives crashes and mounts their reports
type Controller struct {
	resolver FrameResolver
	view     Mounter
	logger   *slog.Logger
	inflight sync.WaitGroup
}

// NewController creates a controller resolving with resolver and mounting into view
func NewController(resolver FrameResolver, view Mounter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		resolver: resolver,
		view:     view,
		logger:   logger,
	}
}

// Crash starts resolving err and returns immediately. The report is mounted
// once resolution settles; a crash is never cancelled once started, and
// the most recent mount wins when crashes overlap.
func (c *Controller) Crash(ctx context.Context, err *jserror.Error, rejection bool) {
	if err == nil {
		err = jserror.New("")
	}

	kind := "error"
	if rejection {
		kind = "rejection"
	}
	metrics.Crashes.WithLabelValues(kind).Inc()

	ctx = context.WithoutCancel(ctx)
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		c.run(ctx, err, rejection)
	}()
}

// Wait blocks until every crash started so far has been mounted
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) run(ctx context.Context, err *jserror.Error, rejection bool) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("crash pipeline panicked, showing fallback", "panic", fmt.Sprint(rec))
			c.mountFallback()
		}
	}()

	frames := c.resolver.Resolve(ctx, err)
	report := BuildReport(err, rejection, frames)

	if mountErr := c.mount(report); mountErr != nil {
		c.logger.Warn("failed to mount crash report, showing fallback",
			"report_id", report.ID,
			"title", report.Title,
			"error", mountErr,
		)
		c.mountFallback()
		return
	}

	c.logger.Info("crash report mounted",
		"report_id", report.ID,
		"title", report.Title,
		"frames", len(report.Frames),
	)
}

func (c *Controller) mount(report overlay.Report) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", overlay.ErrRender, rec)
		}
	}()
	return c.view.Mount(report)
}

// mountFallback shows the fixed fallback report. Its inputs are constants, and
// anything it raises is logged rather than propagated.
func (c *Controller) mountFallback() {
	metrics.FallbackMounts.Inc()
	if err := c.mount(FallbackReport()); err != nil {
		c.logger.Error("failed to mount fallback report", "error", err)
	}
}

// BuildReport assembles the report for err. Rejections are titled
// "Unhandled Rejection (<name>)".
func BuildReport(err *jserror.Error, rejection bool, frames []stackframe.Frame) overlay.Report {
	name := err.Name
	if name == "" {
		name = "Error"
	}

	title := name
	if rejection {
		title = "Unhandled Rejection (" + name + ")"
	}

	return overlay.Report{
		ID:      uuid.NewString(),
		Title:   title,
		Message: err.Message,
		Frames:  frames,
	}
}

// FallbackReport is shown when the real report cannot be mounted
func FallbackReport() overlay.Report {
	return overlay.Report{
		Title:   fallbackTitle,
		Message: fallbackMessage,
		Frames:  []stackframe.Frame{},
	}
}
