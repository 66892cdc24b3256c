package resolver

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/stackframe"
)

type stubParser struct {
	frames []stackframe.Frame
	err    error
	panic  bool
}

func (p stubParser) Parse(*jserror.Error) ([]stackframe.Frame, error) {
	if p.panic {
		panic("parser exploded")
	}
	return p.frames, p.err
}

type locateFunc func(ctx context.Context, frame stackframe.Frame) (stackframe.Frame, error)

func (f locateFunc) Locate(ctx context.Context, frame stackframe.Frame) (stackframe.Frame, error) {
	return f(ctx, frame)
}

var errLookup = errors.New("lookup rejected")

func rawFrames(n int) []stackframe.Frame {
	frames := make([]stackframe.Frame, n)
	for i := range frames {
		frames[i] = stackframe.Frame{
			FileName:   "bundle.js",
			LineNumber: i + 1,
			Source:     stackframe.Ptr(fmt.Sprintf("    at f%d (bundle.js:%d:1)", i, i+1)),
		}
	}
	return frames
}

// mapped marks a frame as resolved by moving it to src/ and dropping Source
func mapped(frame stackframe.Frame) stackframe.Frame {
	return stackframe.Frame{
		FunctionName: stackframe.Ptr(fmt.Sprintf("orig%d", frame.LineNumber)),
		FileName:     "src/app.ts",
		LineNumber:   frame.LineNumber * 10,
	}
}

func TestResolveAllLookupsSucceed(t *testing.T) {
	raw := rawFrames(2)
	r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		return mapped(f), nil
	}), Options{})

	got := r.Resolve(context.Background(), &jserror.Error{Name: "TypeError"})
	require.Len(t, got, 2)
	assert.Equal(t, mapped(raw[0]), got[0])
	assert.Equal(t, mapped(raw[1]), got[1])
}

func TestResolveMiddleLookupFails(t *testing.T) {
	raw := rawFrames(3)
	r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		if f.LineNumber == 2 {
			return stackframe.Frame{}, errLookup
		}
		return mapped(f), nil
	}), Options{})

	got := r.Resolve(context.Background(), &jserror.Error{})
	require.Len(t, got, 3)
	assert.Equal(t, mapped(raw[0]), got[0])
	assert.Equal(t, raw[1], got[1])
	assert.Equal(t, mapped(raw[2]), got[2])
}

func TestResolvePreservesIndexUnderRandomCompletion(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		n := rng.Intn(16)
		raw := rawFrames(n)
		fail := make(map[int]bool)
		delays := make(map[int]time.Duration)
		for i := 0; i < n; i++ {
			fail[i+1] = rng.Intn(3) == 0
			delays[i+1] = time.Duration(rng.Intn(2000)) * time.Microsecond
		}

		r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
			time.Sleep(delays[f.LineNumber])
			if fail[f.LineNumber] {
				return stackframe.Frame{}, errLookup
			}
			return mapped(f), nil
		}), Options{})

		got := r.Resolve(context.Background(), &jserror.Error{})
		require.Len(t, got, n, "round %d", round)
		for i := range raw {
			if fail[i+1] {
				assert.Equal(t, raw[i], got[i], "round %d index %d", round, i)
			} else {
				assert.Equal(t, mapped(raw[i]), got[i], "round %d index %d", round, i)
			}
		}
	}
}

func TestResolveParseFailureYieldsNoFrames(t *testing.T) {
	never := locateFunc(func(context.Context, stackframe.Frame) (stackframe.Frame, error) {
		t.Fatal("locator must not be called")
		return stackframe.Frame{}, nil
	})

	got := New(stubParser{err: stackframe.ErrUnparseableStack}, never, Options{}).Resolve(context.Background(), jserror.New("x"))
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = New(stubParser{panic: true}, never, Options{}).Resolve(context.Background(), jserror.New("x"))
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got = New(stubParser{frames: []stackframe.Frame{}}, never, Options{}).Resolve(context.Background(), jserror.New("x"))
	assert.Empty(t, got)
}

func TestResolveLookupAlwaysRejects(t *testing.T) {
	raw := rawFrames(5)
	r := New(stubParser{frames: raw}, locateFunc(func(context.Context, stackframe.Frame) (stackframe.Frame, error) {
		return stackframe.Frame{}, errLookup
	}), Options{})

	assert.Equal(t, raw, r.Resolve(context.Background(), &jserror.Error{}))
}

func TestResolveLookupPanics(t *testing.T) {
	raw := rawFrames(3)
	r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		if f.LineNumber == 1 {
			panic("locator exploded")
		}
		return mapped(f), nil
	}), Options{})

	got := r.Resolve(context.Background(), &jserror.Error{})
	require.Len(t, got, 3)
	assert.Equal(t, raw[0], got[0])
	assert.Equal(t, mapped(raw[1]), got[1])
}

func TestResolveLookupTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	raw := rawFrames(2)
	r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		if f.LineNumber == 2 {
			// Hung lookup that ignores its context
			<-release
		}
		return mapped(f), nil
	}), Options{LookupTimeout: 20 * time.Millisecond})

	start := time.Now()
	got := r.Resolve(context.Background(), &jserror.Error{})
	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, mapped(raw[0]), got[0])
	assert.Equal(t, raw[1], got[1])
}

func TestResolveRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex

	raw := rawFrames(12)
	r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		n := inFlight.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return mapped(f), nil
	}), Options{Concurrency: 3})

	got := r.Resolve(context.Background(), &jserror.Error{})
	require.Len(t, got, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestResolveEndToEndWithParser(t *testing.T) {
	err := &jserror.Error{
		Name:    "TypeError",
		Message: "x is undefined",
		Stack:   "TypeError: x is undefined\n    at a (bundle.js:1:1)\n    at b (bundle.js:2:1)",
	}
	r := New(stackframe.NewParser(), locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		return mapped(f), nil
	}), Options{})

	got := r.Resolve(context.Background(), err)
	require.Len(t, got, 2)
	assert.Equal(t, "at orig1 (src/app.ts:10)", stackframe.FormatFrame(got[0]))
	assert.Equal(t, "at orig2 (src/app.ts:20)", stackframe.FormatFrame(got[1]))
}

func TestResolveFilterDropsFrames(t *testing.T) {
	raw := rawFrames(3)
	raw[1].IsNative = true
	r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		return mapped(f), nil
	}), Options{Filter: KeepNonNative})

	got := r.Resolve(context.Background(), &jserror.Error{})
	require.Len(t, got, 2)
	assert.Equal(t, mapped(raw[0]), got[0])
	assert.Equal(t, mapped(raw[2]), got[1])
}

func TestResolveFilterPanicFallsBackToRawFrames(t *testing.T) {
	raw := rawFrames(3)
	var lookups atomic.Int32
	r := New(stubParser{frames: raw}, locateFunc(func(_ context.Context, f stackframe.Frame) (stackframe.Frame, error) {
		lookups.Add(1)
		return mapped(f), nil
	}), Options{Filter: func(f stackframe.Frame) bool {
		if f.LineNumber == 2 {
			panic("filter exploded")
		}
		return true
	}})

	got := r.Resolve(context.Background(), &jserror.Error{})
	assert.Equal(t, raw, got)
	assert.Equal(t, int32(0), lookups.Load())
}
