package session

import (
	"net/http"

	"github.com/yousuf/failfast/internal/config"
	"github.com/yousuf/failfast/internal/logger"
	"github.com/yousuf/failfast/internal/overlay"
	"github.com/yousuf/failfast/internal/resolver"
	"github.com/yousuf/failfast/internal/sourcemap"
)

// OptionsFromConfig builds the crash pipeline settings shared by server
// sessions and the render command. WorkspaceDir is left for the caller.
func OptionsFromConfig(cfg *config.Config, log *logger.Logger) Options {
	overrides := cfg.Overlay.Styles
	defaults := overlay.DefaultStyles()
	styles := overlay.Styles{
		Overlay: defaults.Overlay.With(overrides.Overlay),
		Header:  defaults.Header.With(overrides.Header),
		Trace:   defaults.Trace.With(overrides.Trace),
	}

	storeOpts := []sourcemap.Option{}
	if cfg.SourceMaps.Dir != "" {
		storeOpts = append(storeOpts, sourcemap.WithDir(cfg.SourceMaps.Dir))
	}
	if cfg.SourceMaps.Remote {
		storeOpts = append(storeOpts, sourcemap.WithRemote(&http.Client{Timeout: cfg.SourceMaps.HTTPTimeout}))
	}

	resolverOpts := resolver.Options{
		Concurrency:   cfg.Resolver.Concurrency,
		LookupTimeout: cfg.Resolver.LookupTimeout,
	}
	if cfg.Resolver.HideNative {
		resolverOpts.Filter = resolver.KeepNonNative
	}

	return Options{
		Title:        cfg.Overlay.Title,
		Styles:       styles,
		StoreOptions: storeOpts,
		Resolver:     resolverOpts,
		Logger:       log,
	}
}
