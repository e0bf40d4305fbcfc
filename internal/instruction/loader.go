// ABOUTME: Loaders that read instruction text from the filesystem or over HTTP.
// ABOUTME: HTTP responses are size-limited and their bodies always closed.

package instruction

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// MaxInstructionBytes caps how much instruction text is read.
const MaxInstructionBytes = 1 << 20

// Loader fetches instruction text.
type Loader interface {
	Load(ctx context.Context) (string, error)
	String() string
}

// FileLoader reads instructions from a local file.
type FileLoader struct {
	Path string
}

func (l FileLoader) Load(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(l.Path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxInstructionBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l FileLoader) String() string { return "file:" + l.Path }

// HTTPLoader fetches instructions with a GET request.
type HTTPLoader struct {
	URL    string
	client *http.Client
}

// NewHTTPLoader creates an HTTPLoader. A nil client gets a 10s timeout.
func NewHTTPLoader(url string, client *http.Client) *HTTPLoader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPLoader{URL: url, client: client}
}

func (l *HTTPLoader) Load(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain, text/markdown, */*")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("instructions endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxInstructionBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (l *HTTPLoader) String() string { return l.URL }
