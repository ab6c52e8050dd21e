// Package fetch streams audio payloads to local files with ranged resume,
// bounded retries and per-platform rate gating.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Fetcher is the shared transfer engine. It asks the platform resolver for a
// signed AssetRequest and handles the HTTP mechanics itself, so signing stays
// in the resolvers and transfer policy lives in one place.
type Fetcher struct {
	client     *http.Client
	gate       core.RateGate
	logger     *zap.Logger
	maxRetries int
	retryDelay time.Duration
}

func New(gate core.RateGate, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: 10 * time.Minute,
		},
		gate:       gate,
		logger:     logger,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Fetch streams the chosen quality to destPath and returns the byte count.
// Transient failures retry with exponential backoff; when the upstream
// supports ranges a retry resumes from the bytes already on disk instead of
// starting over.
func (f *Fetcher) Fetch(ctx context.Context, src core.Resolver, ref core.TrackRef, q core.QualityDescriptor, creds core.CredentialContext, destPath string) (int64, error) {
	if err := f.gate.Acquire(ctx, ref.Platform); err != nil {
		return 0, err
	}

	req, err := src.StreamRequest(ctx, ref, q, creds)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, &core.FetchError{Kind: core.FetchFatal, Cause: fmt.Sprintf("creating work directory: %v", err)}
	}

	var lastErr error
	delay := f.retryDelay
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			f.logger.Debug("Retrying asset transfer",
				zap.String("track", ref.ID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if err := f.gate.Acquire(ctx, ref.Platform); err != nil {
				return 0, err
			}
		}

		n, err := f.transfer(ctx, req, creds, destPath)
		if err == nil {
			return n, nil
		}
		if !core.Transient(err) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

// transfer performs one transfer attempt, resuming from any partial file when
// the upstream supports ranges.
func (f *Fetcher) transfer(ctx context.Context, asset *core.AssetRequest, creds core.CredentialContext, destPath string) (int64, error) {
	var offset int64
	if asset.SupportsRange {
		if info, err := os.Stat(destPath); err == nil {
			offset = info.Size()
		}
	}
	if asset.Length > 0 && offset == asset.Length {
		return offset, nil
	}
	if offset > 0 && asset.Length > 0 && offset > asset.Length {
		// Partial file longer than the asset means a stale attempt at a
		// different quality. Start over.
		offset = 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.URL, nil)
	if err != nil {
		return 0, &core.FetchError{Kind: core.FetchFatal, Cause: err.Error()}
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range asset.Header {
		req.Header.Set(k, v)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	client := f.client
	if creds.ProxyURL != "" {
		proxied, perr := f.proxiedClient(creds.ProxyURL)
		if perr != nil {
			return 0, &core.FetchError{Kind: core.FetchFatal, Cause: perr.Error()}
		}
		client = proxied
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &core.FetchError{Kind: core.FetchTransient, Cause: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		offset = 0 // upstream ignored the range header
	case resp.StatusCode == http.StatusPartialContent:
	default:
		return 0, statusError(resp.StatusCode)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return 0, &core.FetchError{Kind: core.FetchFatal, Cause: err.Error()}
	}
	defer file.Close()

	written, err := io.Copy(file, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &core.FetchError{Kind: core.FetchTransient, Cause: fmt.Sprintf("stream interrupted after %d bytes: %v", written, err)}
	}

	total := offset + written
	if asset.Length > 0 && total != asset.Length {
		return 0, &core.FetchError{Kind: core.FetchTransient,
			Cause: fmt.Sprintf("short read: got %d of %d bytes", total, asset.Length)}
	}
	return total, nil
}

func (f *Fetcher) proxiedClient(proxyURL string) (*http.Client, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	return &http.Client{
		Timeout: f.client.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(parsed),
		},
	}, nil
}

// statusError maps an upstream HTTP status to a FetchError kind: expired
// sessions and forbidden assets are recoverable via credential refresh,
// missing assets via quality degradation, throttling and server errors via
// retry. Everything else is fatal.
func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &core.FetchError{Kind: core.FetchAuthExpired, Cause: fmt.Sprintf("HTTP %d", code)}
	case code == http.StatusNotFound || code == http.StatusGone:
		return &core.FetchError{Kind: core.FetchQualityUnavailable, Cause: fmt.Sprintf("HTTP %d", code)}
	case code == http.StatusTooManyRequests || code >= 500:
		return &core.FetchError{Kind: core.FetchTransient, Cause: fmt.Sprintf("HTTP %d", code)}
	default:
		return &core.FetchError{Kind: core.FetchFatal, Cause: fmt.Sprintf("HTTP %d", code)}
	}
}
