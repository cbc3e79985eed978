package docs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is where docs.rs serves rendered documentation.
const DefaultBaseURL = "https://docs.rs"

// Fetcher downloads index artifacts from a docs.rs-compatible host.
type Fetcher struct {
	baseURL   string
	userAgent string
	client    *http.Client
}

func NewFetcher(baseURL, userAgent string, timeout time.Duration) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = "ferrisindex/0.1.0"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		userAgent: userAgent,
		client:    &http.Client{Timeout: timeout},
	}
}

// URL returns the address of rel within the rendered docs of crate@version.
// The version "latest" is resolved by docs.rs via redirect.
func (f *Fetcher) URL(crate, version, rel string) string {
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("%s/%s/%s/%s", f.baseURL, crate, version, strings.TrimPrefix(rel, "/"))
}

// Fetch downloads one artifact. rel must be an implementors or sidebar path.
func (f *Fetcher) Fetch(ctx context.Context, crate, version, rel string) ([]byte, error) {
	if !IsArtifactPath(rel) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownArtifact, rel)
	}

	url := f.URL(crate, version, rel)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("docs.rs returned %d for %s/%s/%s: %s", resp.StatusCode, crate, version, rel, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}
