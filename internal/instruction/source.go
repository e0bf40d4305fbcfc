// ABOUTME: Instruction sources that serve agent instructions from a file or URL.
// ABOUTME: CachedSource loads once and refreshes on demand; PerCallSource reloads on every request.

package instruction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/2389/relay-gateway/internal/config"
)

// ErrNotConfigured is returned by NewSource when no path or URL is set.
var ErrNotConfigured = errors.New("no instruction source configured")

// Source provides the current instruction text.
type Source interface {
	Instructions(ctx context.Context) (string, error)
}

// CachedSource loads instructions on first use and serves the cached text
// until Refresh replaces it.
type CachedSource struct {
	loader Loader
	logger *slog.Logger

	mu       sync.RWMutex
	text     string
	loaded   bool
	loadedAt time.Time
}

// NewCachedSource wraps loader with a cache.
func NewCachedSource(loader Loader, logger *slog.Logger) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedSource{loader: loader, logger: logger.With("component", "instruction")}
}

// Instructions returns the cached text, loading it first if needed.
func (s *CachedSource) Instructions(ctx context.Context) (string, error) {
	s.mu.RLock()
	if s.loaded {
		text := s.text
		s.mu.RUnlock()
		return text, nil
	}
	s.mu.RUnlock()

	if err := s.Refresh(ctx); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text, nil
}

// Refresh reloads the instructions. On failure the previous text is kept.
func (s *CachedSource) Refresh(ctx context.Context) error {
	text, err := s.loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading instructions from %s: %w", s.loader, err)
	}

	s.mu.Lock()
	changed := !s.loaded || text != s.text
	s.text = text
	s.loaded = true
	s.loadedAt = time.Now()
	s.mu.Unlock()

	if changed {
		s.logger.Info("instructions loaded", "source", s.loader.String(), "bytes", len(text))
	}
	return nil
}

// LoadedAt reports when the cached text was last loaded.
func (s *CachedSource) LoadedAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt, s.loaded
}

// PerCallSource loads instructions on every call.
type PerCallSource struct {
	loader Loader
}

// NewPerCallSource creates a source with no caching.
func NewPerCallSource(loader Loader) *PerCallSource {
	return &PerCallSource{loader: loader}
}

// Instructions loads and returns the current text.
func (s *PerCallSource) Instructions(ctx context.Context) (string, error) {
	text, err := s.loader.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("loading instructions from %s: %w", s.loader, err)
	}
	return text, nil
}

// NewSource builds the source selected by cfg.Mode. It returns
// ErrNotConfigured when neither a path nor a URL is set.
func NewSource(cfg config.InstructionsConfig, client *http.Client, logger *slog.Logger) (Source, error) {
	var loader Loader
	switch {
	case cfg.Path != "":
		loader = FileLoader{Path: cfg.Path}
	case cfg.URL != "":
		loader = NewHTTPLoader(cfg.URL, client)
	default:
		return nil, ErrNotConfigured
	}

	switch cfg.Mode {
	case config.InstructionModeCached, "":
		return NewCachedSource(loader, logger), nil
	case config.InstructionModePerCall:
		return NewPerCallSource(loader), nil
	default:
		return nil, fmt.Errorf("unknown instruction mode %q", cfg.Mode)
	}
}
