package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Fetcher downloads the bytes behind a URL issued by Store.PublicURL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcherConfig holds the configuration for HTTPFetcher.
type HTTPFetcherConfig struct {
	Logger       *slog.Logger
	Timeout      time.Duration
	RetryCount   int
	MaxBodyBytes int64
}

// HTTPFetcher fetches payloads over HTTP. Only GET is issued, so retries are safe.
type HTTPFetcher struct {
	client  *resty.Client
	logger  *slog.Logger
	maxBody int64
}

// NewHTTPFetcher creates an HTTPFetcher.
func NewHTTPFetcher(cfg *HTTPFetcherConfig) (*HTTPFetcher, error) {
	if cfg == nil {
		return nil, errors.New("fetcher config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("fetch timeout must be positive")
	}
	if cfg.MaxBodyBytes <= 0 {
		return nil, errors.New("max body bytes must be positive")
	}
	if cfg.RetryCount < 0 {
		return nil, errors.New("retry count cannot be negative")
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetResponseBodyLimit(int(cfg.MaxBodyBytes)).
		SetHeader("Accept", "text/csv, text/plain, application/octet-stream").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return !errors.Is(err, resty.ErrResponseBodyTooLarge)
			}
			return r != nil && r.StatusCode() >= http.StatusInternalServerError
		})

	return &HTTPFetcher{
		client:  client,
		logger:  cfg.Logger,
		maxBody: cfg.MaxBodyBytes,
	}, nil
}

// Fetch implements Fetcher. A 404 maps to ErrObjectNotFound.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		Get(rawURL)
	if errors.Is(err, resty.ErrResponseBodyTooLarge) {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, f.maxBody)
	}
	if err != nil {
		f.logger.Error("payload fetch failed", "url", rawURL, "error", err)
		return nil, fmt.Errorf("failed to fetch payload: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, rawURL)
	case resp.IsError():
		return nil, fmt.Errorf("failed to fetch payload: unexpected status %d", resp.StatusCode())
	}

	body := resp.Body()
	f.logger.Debug("payload fetched", "url", rawURL, "size_bytes", len(body), "duration", resp.Time())
	return body, nil
}

// StoreFetcher reads payloads directly from a Store, resolving URLs issued
// under BaseURL back to object paths.
type StoreFetcher struct {
	Store   Store
	BaseURL string
}

// Fetch implements Fetcher.
func (f *StoreFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	path, err := PathFromURL(f.BaseURL, rawURL)
	if err != nil {
		return nil, err
	}
	obj, err := f.Store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

// PathFromURL reverses PublicURL: it strips baseURL and the /objects/ prefix
// and unescapes the remaining path.
func PathFromURL(baseURL, rawURL string) (string, error) {
	prefix := strings.TrimRight(baseURL, "/") + "/objects/"
	if !strings.HasPrefix(rawURL, prefix) {
		return "", fmt.Errorf("%w: url %q is not served by %q", ErrInvalidPath, rawURL, baseURL)
	}
	path, err := url.PathUnescape(strings.TrimPrefix(rawURL, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	return path, nil
}

// Ensure the fetchers implement Fetcher.
var (
	_ Fetcher = (*HTTPFetcher)(nil)
	_ Fetcher = (*StoreFetcher)(nil)
)
