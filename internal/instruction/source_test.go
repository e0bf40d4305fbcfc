// ABOUTME: Tests for instruction sources and loaders.
// ABOUTME: Covers caching, per-call reloads, refresh failure handling, HTTP loading, and scheduling.

package instruction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relay-gateway/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingLoader returns "v<n>" on the n-th load.
type countingLoader struct {
	loads atomic.Int32
	fail  atomic.Bool
}

func (l *countingLoader) Load(context.Context) (string, error) {
	if l.fail.Load() {
		return "", errors.New("unreachable")
	}
	n := l.loads.Add(1)
	return fmt.Sprintf("v%d", n), nil
}

func (l *countingLoader) String() string { return "counting" }

func TestCachedSource(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{}
	src := NewCachedSource(loader, testLogger())

	_, ok := src.LoadedAt()
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		text, err := src.Instructions(ctx)
		require.NoError(t, err)
		assert.Equal(t, "v1", text)
	}
	assert.Equal(t, int32(1), loader.loads.Load(), "loaded once")

	require.NoError(t, src.Refresh(ctx))
	text, err := src.Instructions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", text)

	loader.fail.Store(true)
	assert.Error(t, src.Refresh(ctx))
	text, err = src.Instructions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v2", text, "failed refresh keeps previous text")
}

func TestCachedSource_FirstLoadFails(t *testing.T) {
	loader := &countingLoader{}
	loader.fail.Store(true)
	src := NewCachedSource(loader, testLogger())

	_, err := src.Instructions(context.Background())
	assert.Error(t, err)

	loader.fail.Store(false)
	text, err := src.Instructions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", text)
}

func TestPerCallSource(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{}
	src := NewPerCallSource(loader)

	first, err := src.Instructions(ctx)
	require.NoError(t, err)
	second, err := src.Instructions(ctx)
	require.NoError(t, err)

	assert.Equal(t, "v1", first)
	assert.Equal(t, "v2", second)
}

func TestFileLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instructions.md")
	require.NoError(t, os.WriteFile(path, []byte("be brief"), 0644))

	text, err := FileLoader{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "be brief", text)

	_, err = FileLoader{Path: filepath.Join(t.TempDir(), "missing")}.Load(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHTTPLoader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.Error(w, "gone", http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, "remote rules")
	}))
	defer srv.Close()

	text, err := NewHTTPLoader(srv.URL+"/rules", nil).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "remote rules", text)

	_, err = NewHTTPLoader(srv.URL+"/missing", srv.Client()).Load(context.Background())
	assert.ErrorContains(t, err, "404")
}

func TestNewSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	src, err := NewSource(config.InstructionsConfig{Mode: config.InstructionModeCached, Path: path}, nil, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &CachedSource{}, src)

	src, err = NewSource(config.InstructionsConfig{Mode: config.InstructionModePerCall, URL: "http://example.invalid/i"}, nil, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &PerCallSource{}, src)

	_, err = NewSource(config.InstructionsConfig{Mode: config.InstructionModeCached}, nil, testLogger())
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewSource(config.InstructionsConfig{Mode: "sometimes", Path: path}, nil, testLogger())
	assert.Error(t, err)
}

func TestStartRefresher(t *testing.T) {
	loader := &countingLoader{}
	src := NewCachedSource(loader, testLogger())

	_, err := StartRefresher("not a schedule", src, testLogger())
	assert.Error(t, err)

	r, err := StartRefresher("@every 1s", src, testLogger())
	require.NoError(t, err)
	defer r.Stop()

	assert.Eventually(t, func() bool {
		_, ok := src.LoadedAt()
		return ok
	}, 3*time.Second, 50*time.Millisecond)
}
