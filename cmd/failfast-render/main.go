package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/yousuf/failfast/internal/config"
	"github.com/yousuf/failfast/internal/events"
	"github.com/yousuf/failfast/internal/jserror"
	"github.com/yousuf/failfast/internal/logger"
	"github.com/yousuf/failfast/internal/overlay"
	"github.com/yousuf/failfast/internal/session"
)

// crashInput is the error document read from a file or stdin
type crashInput struct {
	Name      string `json:"name"`
	Message   string `json:"message"`
	Stack     string `json:"stack"`
	Rejection bool   `json:"rejection"`
	// Value is a thrown non-Error value; used when name, message and stack are empty
	Value any `json:"value"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("FAILFAST_CONFIG"), "Path to config file")
	mapDir := flag.String("maps", "", "Directory holding generated scripts and their source maps (overrides config)")
	htmlOut := flag.String("html", "", "Also write the crash page HTML to this file")
	width := flag.Int("width", 100, "Terminal panel width, 0 to fit content")
	verbose := flag.Bool("verbose", false, "Log resolution details to stderr")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Config{Level: level, Format: cfg.Logging.Format, Output: "stderr", Component: "render"})
	if err != nil {
		return err
	}

	in := io.Reader(os.Stdin)
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	if *mapDir != "" {
		cfg.SourceMaps.Dir = *mapDir
	}

	page, err := render(in, cfg, log)
	if err != nil {
		return err
	}
	defer page.Close()

	view := page.View
	report, ok := view.Active()
	if !ok {
		return fmt.Errorf("no crash report was produced")
	}
	fmt.Println(overlay.RenderTerminal(report, *width))

	if *htmlOut != "" {
		doc, err := view.HTML()
		if err != nil {
			return err
		}
		if err := os.WriteFile(*htmlOut, []byte(doc), 0644); err != nil {
			return fmt.Errorf("failed to write html: %w", err)
		}
	}
	return nil
}

// render runs one crash through the same pipeline a server session uses and
// returns the session holding the mounted overlay
func render(in io.Reader, cfg *config.Config, log *logger.Logger) (*session.Context, error) {
	var input crashInput
	if err := json.NewDecoder(in).Decode(&input); err != nil {
		return nil, fmt.Errorf("failed to decode error JSON: %w", err)
	}

	page := session.NewContext("render", session.OptionsFromConfig(cfg, log))

	thrown := input.Value
	if input.Name != "" || input.Message != "" || input.Stack != "" {
		thrown = &jserror.Error{Name: input.Name, Message: input.Message, Stack: input.Stack}
	}

	if input.Rejection {
		page.Window.DispatchRejection(&events.RejectionEvent{Reason: thrown})
	} else {
		page.Window.DispatchError(events.ErrorEvent{Message: "Uncaught " + jserror.Stringify(thrown), Error: thrown})
	}
	page.Controller.Wait()

	return page, nil
}
