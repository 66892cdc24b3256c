package stackframe

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/yousuf/failfast/internal/jserror"
)

// ErrUnparseableStack is returned when an error carries no stack the parser understands
var ErrUnparseableStack = errors.New("cannot parse given error object")

var (
	// Detects V8/QuickJS stacks: at least one "at ..." line with a position or (native)
	v8StackPattern = regexp.MustCompile(`(?m)^\s*at .*(\S+:\d+|\(native\))`)
	evalPattern    = regexp.MustCompile(`(\(eval at [^()]*)|(,.*$)`)

	nativePattern  = regexp.MustCompile(`at\s+(.+?)\s+\(native\)`)
	callPattern    = regexp.MustCompile(`at\s+(.+?)\s+\((.+?):(\d+)(?::(\d+))?\)`)
	barePattern    = regexp.MustCompile(`at\s+(.+?):(\d+)(?::(\d+))?$`)
	locOnlyPattern = regexp.MustCompile(`^(.+?):(\d+):(\d+)$`)

	geckoSkipPattern = regexp.MustCompile(`^(eval@)?(\[native code\])?$`)
	geckoPattern     = regexp.MustCompile(`^(.*?)@(.+?):(\d+)(?::(\d+))?$`)
)

// Parser parses JavaScript error stacks into structured frames
type Parser struct{}

// NewParser creates a new stack parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse converts the stack of err into an ordered sequence of raw frames.
// V8-style frames keep their raw line in Source; Gecko-style frames do not.
func (p *Parser) Parse(err *jserror.Error) ([]Frame, error) {
	if err == nil || strings.TrimSpace(err.Stack) == "" {
		return nil, ErrUnparseableStack
	}

	if v8StackPattern.MatchString(err.Stack) {
		return p.parseV8(err.Stack), nil
	}
	return p.parseGecko(err.Stack), nil
}

func (p *Parser) parseV8(stack string) []Frame {
	frames := make([]Frame, 0)
	for _, line := range strings.Split(stack, "\n") {
		if !v8StackPattern.MatchString(line) {
			continue
		}
		if frame := p.ParseStackLine(line); frame != nil {
			frames = append(frames, *frame)
		}
	}
	return frames
}

// ParseStackLine parses a single V8/QuickJS line from a stack trace
// Handles formats like:
// - at functionName (file:line:column)
// - at functionName (file:line)
// - at file:line:column
// - at functionName (native)
// - at eval (eval at <anonymous> (file:line:column), <anonymous>:1:1)
func (p *Parser) ParseStackLine(line string) *Frame {
	trimmedLine := strings.TrimSpace(line)

	// Skip empty lines
	if trimmedLine == "" {
		return nil
	}

	raw := line
	if strings.Contains(trimmedLine, "(eval ") {
		trimmedLine = strings.TrimSpace(evalPattern.ReplaceAllString(strings.ReplaceAll(trimmedLine, "eval code", "eval"), ""))
		if !strings.HasSuffix(trimmedLine, ")") && strings.Contains(trimmedLine, "(") {
			trimmedLine += ")"
		}
	}

	if strings.Contains(trimmedLine, "(native)") {
		functionName := "unknown"
		if matches := nativePattern.FindStringSubmatch(trimmedLine); matches != nil {
			functionName = matches[1]
		}
		return &Frame{
			FunctionName: &functionName,
			FileName:     "native",
			Source:       &raw,
			IsNative:     true,
		}
	}

	// at functionName (file:line[:column])
	if matches := callPattern.FindStringSubmatch(trimmedLine); matches != nil {
		return newFrame(Ptr(matches[1]), matches[2], matches[3], matches[4], &raw)
	}

	// at file:line[:column]
	if matches := barePattern.FindStringSubmatch(trimmedLine); matches != nil {
		return newFrame(nil, matches[1], matches[2], matches[3], &raw)
	}

	// file:line:column without "at"
	if matches := locOnlyPattern.FindStringSubmatch(trimmedLine); matches != nil {
		return newFrame(nil, matches[1], matches[2], matches[3], &raw)
	}

	return nil
}

func (p *Parser) parseGecko(stack string) []Frame {
	frames := make([]Frame, 0)
	for _, line := range strings.Split(stack, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if trimmedLine == "" || geckoSkipPattern.MatchString(trimmedLine) {
			continue
		}

		matches := geckoPattern.FindStringSubmatch(trimmedLine)
		if matches == nil {
			continue
		}

		var functionName *string
		if matches[1] != "" {
			functionName = Ptr(matches[1])
		}
		if frame := newFrame(functionName, matches[2], matches[3], matches[4], nil); frame != nil {
			frames = append(frames, *frame)
		}
	}
	return frames
}

func newFrame(functionName *string, fileName, line, column string, source *string) *Frame {
	lineNum, err := strconv.Atoi(line)
	if err != nil {
		return nil
	}

	frame := &Frame{
		FunctionName: functionName,
		FileName:     fileName,
		LineNumber:   lineNum,
		Source:       source,
	}
	if column != "" {
		if colNum, err := strconv.Atoi(column); err == nil {
			frame.ColumnNumber = &colNum
		}
	}
	return frame
}
