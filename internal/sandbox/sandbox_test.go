package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/logger"
	"github.com/yousuf/failfast/internal/stackframe"
)

const testMap = `{"version":3,"file":"bundle.js","sources":["src/app.ts"],"names":["render"],"mappings":"AAAAA;AACA"}`

type mapRecorder struct {
	registered map[string]string
	forgotten  []string
}

func (m *mapRecorder) Register(fileName string, sourceMap []byte) error {
	if m.registered == nil {
		m.registered = make(map[string]string)
	}
	m.registered[fileName] = string(sourceMap)
	return nil
}

func (m *mapRecorder) Forget(fileName string) {
	m.forgotten = append(m.forgotten, fileName)
}

func newTestSandbox(r *recorder, maps SourceMapRegistry) *Sandbox {
	return &Sandbox{
		dispatcher: r,
		maps:       maps,
		parser:     stackframe.NewParser(),
		logger:     logger.Discard().Logger,
	}
}

func TestHandleOutputResult(t *testing.T) {
	r := &recorder{}
	sb := newTestSandbox(r, nil)

	res, err := sb.handleOutput([]byte(`{"Error":"","Stack":"","Result":"{\"total\":3}"}`), testMap)
	require.NoError(t, err)
	assert.False(t, res.Crashed)
	assert.JSONEq(t, `{"total":3}`, res.Output)
	assert.Empty(t, r.errors)
}

func TestHandleOutputThrowDispatches(t *testing.T) {
	r := &recorder{}
	maps := &mapRecorder{}
	sb := newTestSandbox(r, maps)

	output := `{"error":"TypeError: x is undefined","stack":"TypeError: x is undefined\n    at exec (script.js:3:9)\n    at <anonymous> (script.js:1:1)","result":""}`
	res, err := sb.handleOutput([]byte(output), testMap)
	require.NoError(t, err)
	assert.True(t, res.Crashed)

	require.Len(t, r.errors, 1)
	assert.Equal(t, "Uncaught TypeError: x is undefined", r.errors[0].Message)
	assert.Equal(t, BundleFileName, r.errors[0].Source)

	jsErr, ok := jserror.As(r.errors[0].Error)
	require.True(t, ok)
	assert.Equal(t, "TypeError", jsErr.Name)
	assert.Equal(t, "x is undefined", jsErr.Message)
	assert.Contains(t, jsErr.Stack, "script.js:3:9")

	// The guest's own script name resolves through the bundle's map
	assert.Equal(t, testMap, maps.registered["script.js"])
}

func TestHandleOutputThrowWithoutName(t *testing.T) {
	r := &recorder{}
	sb := newTestSandbox(r, nil)

	res, err := sb.handleOutput([]byte(`{"error":"something broke","stack":"","result":""}`), "")
	require.NoError(t, err)
	assert.True(t, res.Crashed)

	jsErr, ok := jserror.As(r.errors[0].Error)
	require.True(t, ok)
	assert.Equal(t, "Error", jsErr.Name)
	assert.Equal(t, "something broke", jsErr.Message)
}

func TestHandleOutputMalformed(t *testing.T) {
	sb := newTestSandbox(&recorder{}, nil)
	_, err := sb.handleOutput([]byte(`not json`), "")
	assert.Error(t, err)
}
