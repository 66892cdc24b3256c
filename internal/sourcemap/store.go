package sourcemap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gosourcemap "github.com/go-sourcemap/sourcemap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoSourceMap is returned when no source map can be found for a generated file
	ErrNoSourceMap = errors.New("no source map for file")
	// ErrNoMapping is returned when the source map has no mapping for a position
	ErrNoMapping = errors.New("no mapping for position")
	// ErrNoPosition is returned for frames that cannot be looked up (native, no line)
	ErrNoPosition = errors.New("frame has no generated position")
)

const maxMapSize = 32 << 20

// Store loads and caches parsed source maps keyed by generated file name
type Store struct {
	dir         string
	fetchRemote bool
	client      *http.Client
	logger      *slog.Logger

	mu        sync.RWMutex
	consumers map[string]*gosourcemap.Consumer
	group     singleflight.Group
}

// Option configures a Store
type Option func(*Store)

// WithDir makes the store look for scripts and maps under dir. Without it
// only registered maps and remote fetches are used.
func WithDir(dir string) Option {
	return func(s *Store) { s.dir = dir }
}

// WithRemote enables fetching scripts and maps over http(s)
func WithRemote(client *http.Client) Option {
	return func(s *Store) {
		s.fetchRemote = true
		if client != nil {
			s.client = client
		}
	}
}

// WithLogger sets the logger used for load diagnostics
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty source map store
func NewStore(opts ...Option) *Store {
	s := &Store{
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    slog.Default(),
		consumers: make(map[string]*gosourcemap.Consumer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register parses sourceMap and associates it with the generated fileName
func (s *Store) Register(fileName string, sourceMap []byte) error {
	consumer, err := gosourcemap.Parse("", sourceMap)
	if err != nil {
		return fmt.Errorf("failed to parse source map for %s: %w", fileName, err)
	}

	s.mu.Lock()
	s.consumers[fileName] = consumer
	s.mu.Unlock()
	return nil
}

// Forget drops any cached map for fileName
func (s *Store) Forget(fileName string) {
	s.mu.Lock()
	delete(s.consumers, fileName)
	s.mu.Unlock()
}

// Consumer returns the parsed source map for fileName, loading it on first use.
// Concurrent loads of the same file share one fetch.
func (s *Store) Consumer(ctx context.Context, fileName string) (*gosourcemap.Consumer, error) {
	s.mu.RLock()
	consumer, ok := s.consumers[fileName]
	if !ok {
		// Bundles are registered by bare name but reported by full path or URL
		consumer, ok = s.consumers[baseName(fileName)]
	}
	s.mu.RUnlock()
	if ok {
		return consumer, nil
	}

	v, err, _ := s.group.Do(fileName, func() (interface{}, error) {
		consumer, err := s.load(ctx, fileName)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.consumers[fileName] = consumer
		s.mu.Unlock()
		return consumer, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*gosourcemap.Consumer), nil
}

func (s *Store) load(ctx context.Context, fileName string) (*gosourcemap.Consumer, error) {
	if isRemote(fileName) {
		if !s.fetchRemote {
			return nil, fmt.Errorf("%w %s: remote fetching disabled", ErrNoSourceMap, fileName)
		}
		return s.loadRemote(ctx, fileName)
	}
	return s.loadLocal(fileName)
}

func (s *Store) loadLocal(fileName string) (*gosourcemap.Consumer, error) {
	if s.dir == "" {
		return nil, fmt.Errorf("%w %s: no map directory configured", ErrNoSourceMap, fileName)
	}

	scriptPath := filepath.FromSlash(fileName)
	if !filepath.IsAbs(scriptPath) {
		scriptPath = filepath.Join(s.dir, scriptPath)
	}
	if !s.contains(scriptPath) {
		return nil, fmt.Errorf("%w %s: outside map directory", ErrNoSourceMap, fileName)
	}

	candidates := make([]string, 0, 2)
	if script, err := os.ReadFile(scriptPath); err == nil {
		if ref := findMappingURL(script); ref != "" {
			if strings.HasPrefix(ref, "data:") {
				data, err := decodeDataURI(ref)
				if err != nil {
					return nil, fmt.Errorf("%w %s: %v", ErrNoSourceMap, fileName, err)
				}
				return parse("", data)
			}
			ref = filepath.FromSlash(ref)
			if !filepath.IsAbs(ref) {
				ref = filepath.Join(filepath.Dir(scriptPath), ref)
			}
			if s.contains(ref) {
				candidates = append(candidates, ref)
			} else {
				s.logger.Debug("ignoring sourceMappingURL outside map directory", "file", fileName, "ref", ref)
			}
		}
	}
	candidates = append(candidates, scriptPath+".map")

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			s.logger.Debug("source map candidate unavailable", "file", fileName, "candidate", candidate, "error", err)
			continue
		}
		return parse("", data)
	}

	return nil, fmt.Errorf("%w %s", ErrNoSourceMap, fileName)
}

// contains reports whether p lies inside the map directory
func (s *Store) contains(p string) bool {
	root, err := filepath.Abs(s.dir)
	if err != nil {
		return false
	}
	target, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Store) loadRemote(ctx context.Context, fileName string) (*gosourcemap.Consumer, error) {
	scriptURL, err := url.Parse(fileName)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrNoSourceMap, fileName, err)
	}

	mapURL := fileName + ".map"
	if script, err := s.fetch(ctx, fileName); err == nil {
		if ref := findMappingURL(script); ref != "" {
			if strings.HasPrefix(ref, "data:") {
				data, err := decodeDataURI(ref)
				if err != nil {
					return nil, fmt.Errorf("%w %s: %v", ErrNoSourceMap, fileName, err)
				}
				return parse(fileName, data)
			}
			refURL, err := url.Parse(ref)
			if err == nil {
				mapURL = scriptURL.ResolveReference(refURL).String()
			}
		}
	} else {
		s.logger.Debug("failed to fetch script", "file", fileName, "error", err)
	}

	data, err := s.fetch(ctx, mapURL)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrNoSourceMap, fileName, err)
	}
	return parse(mapURL, data)
}

func (s *Store) fetch(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", target, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxMapSize))
}

// parse resolves relative sources against mapURL; local maps pass "" so
// sources stay as authored.
func parse(mapURL string, data []byte) (*gosourcemap.Consumer, error) {
	consumer, err := gosourcemap.Parse(mapURL, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source map %s: %w", mapURL, err)
	}
	return consumer, nil
}

// findMappingURL returns the last sourceMappingURL reference in a script
func findMappingURL(script []byte) string {
	var ref string
	scanner := bufio.NewScanner(bytes.NewReader(script))
	scanner.Buffer(make([]byte, 64*1024), maxMapSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		for _, prefix := range []string{"//# sourceMappingURL=", "//@ sourceMappingURL="} {
			if strings.HasPrefix(line, prefix) {
				ref = strings.TrimSpace(strings.TrimPrefix(line, prefix))
			}
		}
	}
	return ref
}

func decodeDataURI(ref string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data uri")
	}
	if strings.HasSuffix(header, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(decoded), nil
}

func isRemote(fileName string) bool {
	return strings.HasPrefix(fileName, "http://") || strings.HasPrefix(fileName, "https://")
}

// baseName returns the last path element of a file name or URL
func baseName(fileName string) string {
	if u, err := url.Parse(fileName); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(fileName)
}
