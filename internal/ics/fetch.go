package ics

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "icanban/internal/log"
)

// Source is one task feed to import: an http(s) URL, a file:// URL or a
// plain filesystem path.
type Source struct {
	ID  string
	URL string
}

// FetchResult is the body of one feed and where it came from.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// cacheMeta holds the validators of the last successful download.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last
// good body on disk, so an unreachable server still yields the previous
// import instead of nothing.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir. An empty cacheDir
// disables the disk cache.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		cacheDir: cacheDir,
	}
}

// FetchTodos fetches src and parses its VTODOs.
func (f *Fetcher) FetchTodos(ctx context.Context, src Source) ([]*Todo, error) {
	res, err := f.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	todos, err := ParseICS(bytes.NewReader(res.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.ID, err)
	}
	appLog.Info("feed parsed", "id", src.ID, "todo_count", len(todos), "from_cache", res.FromCache)
	return todos, nil
}

// Fetch returns the raw body of src.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}
	if !isRemote(src.URL) {
		body, err := os.ReadFile(strings.TrimPrefix(src.URL, "file://"))
		if err != nil {
			return FetchResult{}, err
		}
		return FetchResult{Source: src, Body: body}, nil
	}
	return f.fetchRemote(ctx, src)
}

func (f *Fetcher) fetchRemote(ctx context.Context, src Source) (FetchResult, error) {
	dir := f.cachePath(src.URL)
	var meta cacheMeta
	var cached []byte
	if dir != "" {
		meta, _ = loadMeta(dir)
		cached, _ = os.ReadFile(filepath.Join(dir, "body.ics"))
	}
	fallback := func(cause error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, cause
		}
		appLog.Error("feed fetch failed, using cached body", cause, "id", src.ID, "url", redactURL(src.URL))
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		if dir != "" {
			meta := cacheMeta{
				URL:          src.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := saveCache(dir, meta, body); err != nil {
				appLog.Error("feed cache save failed", err, "id", src.ID)
			}
		}
		return FetchResult{Source: src, Body: body}, nil
	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Debug("feed not modified", "id", src.ID)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil
	default:
		return fallback(errors.New(resp.Status))
	}
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}

func (f *Fetcher) cachePath(url string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var meta cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}

func saveCache(dir string, meta cacheMeta, body []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	// Body first so the metadata never points at a missing body.
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often embed tokens.
func redactURL(u string) string {
	i := strings.Index(u, "://")
	if i < 0 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return u[:i+3] + rest + "/...(redacted)"
}
