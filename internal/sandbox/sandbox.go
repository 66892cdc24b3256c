// Package sandbox runs bundled JavaScript inside an extism WebAssembly plugin
// and forwards errors thrown by the guest to a host event dispatcher.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	extism "github.com/extism/go-sdk"

	"github.com/yousuf/failfast/internal/events"
	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/stackframe"
)

// BundleFileName is the name the bundle's source map is registered under
const BundleFileName = "bundle.js"

// Dispatcher receives events raised by guest code
type Dispatcher interface {
	DispatchError(ev events.ErrorEvent)
	DispatchRejection(ev *events.RejectionEvent)
}

// SourceMapRegistry stores the source map of a bundle before it runs
type SourceMapRegistry interface {
	Register(fileName string, sourceMap []byte) error
	Forget(fileName string)
}

// Sandbox provides a WebAssembly execution environment for user code
type Sandbox struct {
	plugin     *extism.Plugin
	dispatcher Dispatcher
	maps       SourceMapRegistry
	parser     *stackframe.Parser
	logger     *slog.Logger
	ctx        context.Context
}

// ExecuteCodeResult is the output of the guest's executeCode export
type ExecuteCodeResult struct {
	Error  string
	Stack  string
	Result string
}

// ExecuteResult is the outcome of one executeCode call
type ExecuteResult struct {
	// Output is the value returned by exec(), as the guest rendered it
	Output string
	// Crashed is set when exec() threw; the error was dispatched as an uncaught error
	Crashed bool
}

// NewSandbox creates a new sandbox instance from the WASM runtime at wasmPath
func NewSandbox(ctx context.Context, wasmPath string, dispatcher Dispatcher, maps SourceMapRegistry, logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}

	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmFile{
				Path: wasmPath,
			},
		},
	}

	config := extism.PluginConfig{
		EnableWasi: true,
	}

	plugin, err := extism.NewPlugin(ctx, manifest, config, []extism.HostFunction{})
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin: %w", err)
	}

	return &Sandbox{
		plugin:     plugin,
		dispatcher: dispatcher,
		maps:       maps,
		parser:     stackframe.NewParser(),
		logger:     logger,
		ctx:        ctx,
	}, nil
}

// ExecuteCode registers the bundle's source map and runs the bundle. A throw
// from exec() is not returned as an error: it is dispatched to the host like
// any other uncaught error so the crash overlay picks it up.
func (s *Sandbox) ExecuteCode(bundledCode, sourceMap string) (ExecuteResult, error) {
	if s.maps != nil {
		if sourceMap == "" {
			// A map left over from an earlier bundle would misplace every frame
			s.maps.Forget(BundleFileName)
		} else if err := s.maps.Register(BundleFileName, []byte(sourceMap)); err != nil {
			s.logger.Warn("bundle source map rejected", "error", err)
		}
	}

	// Call the executeCode function exported by the JavaScript plugin
	exit, output, err := s.plugin.Call("executeCode", []byte(bundledCode))
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("plugin execution failed: %w", err)
	}
	if exit != 0 {
		return ExecuteResult{}, fmt.Errorf("plugin exited with code %d", exit)
	}

	return s.handleOutput(output, sourceMap)
}

func (s *Sandbox) handleOutput(output []byte, sourceMap string) (ExecuteResult, error) {
	var result ExecuteCodeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to unmarshal output: %w", err)
	}

	if result.Error == "" {
		return ExecuteResult{Output: result.Result}, nil
	}

	thrown := jserror.FromString(result.Error, result.Stack)
	if sourceMap != "" {
		s.registerStackFiles(thrown, sourceMap)
	}

	s.logger.Debug("exec threw", "name", thrown.Name, "message", thrown.Message)
	s.dispatcher.DispatchError(events.ErrorEvent{
		Message: "Uncaught " + thrown.Error(),
		Source:  BundleFileName,
		Error:   thrown,
	})
	return ExecuteResult{Crashed: true}, nil
}

// registerStackFiles makes the bundle's map available under every script name
// the guest reported frames for; the guest evaluates the whole bundle as one
// script but may name it differently.
func (s *Sandbox) registerStackFiles(thrown *jserror.Error, sourceMap string) {
	if s.maps == nil {
		return
	}
	frames, err := s.parser.Parse(thrown)
	if err != nil {
		return
	}

	seen := map[string]bool{BundleFileName: true}
	for _, frame := range frames {
		if frame.IsNative || frame.FileName == "" || seen[frame.FileName] {
			continue
		}
		seen[frame.FileName] = true
		if err := s.maps.Register(frame.FileName, []byte(sourceMap)); err != nil {
			s.logger.Warn("bundle source map rejected", "file", frame.FileName, "error", err)
			return
		}
	}
}

// Close closes the sandbox and frees resources
func (s *Sandbox) Close() {
	if s.plugin != nil {
		s.plugin.Close(s.ctx)
	}
}

// GuestError is an Error object serialized by the guest
type GuestError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

func (g *GuestError) toError() *jserror.Error {
	name := g.Name
	if name == "" {
		name = "Error"
	}
	return &jserror.Error{Name: name, Message: g.Message, Stack: g.Stack}
}
