// Package media resolves, stores and transcribes media attached to
// conversation messages.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// DefaultGraphBaseURL is the Meta Graph API endpoint used to resolve media
// IDs into download URLs.
const DefaultGraphBaseURL = "https://graph.facebook.com"

// DefaultFetchTimeout bounds a single media resolution or download.
const DefaultFetchTimeout = 15 * time.Second

// FetcherOpts holds configuration options for the Graph API media fetcher.
type FetcherOpts struct {
	AccessToken string
	APIVersion  string
	BaseURL     string
	HTTPClient  *http.Client
}

// FetcherOption defines a configuration option for the media fetcher.
type FetcherOption func(*FetcherOpts)

// WithAccessToken sets the Graph API access token.
func WithAccessToken(token string) FetcherOption {
	return func(o *FetcherOpts) { o.AccessToken = token }
}

// WithAPIVersion sets the Graph API version (e.g. "v17.0").
func WithAPIVersion(version string) FetcherOption {
	return func(o *FetcherOpts) { o.APIVersion = version }
}

// WithBaseURL overrides the Graph API base URL (tests).
func WithBaseURL(base string) FetcherOption {
	return func(o *FetcherOpts) { o.BaseURL = base }
}

// WithHTTPClient overrides the HTTP client used for Graph API calls.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(o *FetcherOpts) { o.HTTPClient = client }
}

// Fetcher resolves media references against the Meta Graph API: a media ID
// is first exchanged for a short-lived download URL, then the bytes are
// fetched with bearer authentication.
type Fetcher struct {
	accessToken string
	apiVersion  string
	baseURL     string
	httpClient  *http.Client
}

// NewFetcher creates a Graph API media fetcher. Missing options fall back to
// environment variables.
func NewFetcher(opts ...FetcherOption) (*Fetcher, error) {
	var cfg FetcherOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = os.Getenv("WHATSAPP_ACCESS_TOKEN")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = os.Getenv("GRAPH_API_VERSION")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v17.0"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultFetchTimeout}
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("access token must be provided")
	}

	return &Fetcher{
		accessToken: cfg.AccessToken,
		apiVersion:  cfg.APIVersion,
		baseURL:     cfg.BaseURL,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// ResolveURL exchanges a media ID for its download URL.
func (f *Fetcher) ResolveURL(ctx context.Context, mediaID string) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/%s?access_token=%s",
		f.baseURL, f.apiVersion, mediaID, url.QueryEscape(f.accessToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create media lookup request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media lookup for %s failed: %w", mediaID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("media lookup for %s returned status %d: %s", mediaID, resp.StatusCode, string(body))
	}

	var payload struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode media lookup response: %w", err)
	}
	if payload.URL == "" {
		return "", fmt.Errorf("media lookup for %s returned no url", mediaID)
	}

	slog.Debug("Media URL resolved", "mediaID", mediaID)
	return payload.URL, nil
}

// Download fetches the media bytes at the given URL with bearer auth.
func (f *Fetcher) Download(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create media download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.accessToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	return data, nil
}
