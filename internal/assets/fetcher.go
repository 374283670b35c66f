package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"

	pkgerrors "xrayclient/pkg/errors"
)

// Fetcher downloads asset files with progress reporting.
type Fetcher struct {
	transport        *http.Transport
	userAgent        string
	timeout          time.Duration
	progressInterval time.Duration
}

// FetcherConfig represents fetcher configuration
type FetcherConfig struct {
	UserAgent string
	// Timeout bounds a whole download; zero leaves it to the transport.
	Timeout          time.Duration
	ProgressInterval time.Duration
}

// DefaultFetcherConfig returns default fetcher configuration
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:        "XrayClient/1.0",
		ProgressInterval: 500 * time.Millisecond,
	}
}

// NewFetcher creates a new asset fetcher
func NewFetcher(config FetcherConfig) *Fetcher {
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = 500 * time.Millisecond
	}
	return &Fetcher{
		transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 5,
			IdleConnTimeout:     90 * time.Second,
		},
		userAgent:        config.UserAgent,
		timeout:          config.Timeout,
		progressInterval: config.ProgressInterval,
	}
}

// client returns a client that tunnels through proxy when it is set.
func (f *Fetcher) client(proxy *url.URL) *http.Client {
	transport := f.transport
	if proxy != nil {
		transport = f.transport.Clone()
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &http.Client{Transport: transport, Timeout: f.timeout}
}

// Download writes the body of rawURL to dst. progress receives the
// completed percentage at most once per progress interval, and 100 once the
// body is complete.
func (f *Fetcher) Download(ctx context.Context, rawURL, dst string, proxy *url.URL, progress func(float64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := f.client(proxy).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &pkgerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        rawURL,
		}
	}

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	counter := &progressWriter{
		total:    resp.ContentLength,
		report:   progress,
		throttle: &rate.Sometimes{Interval: f.progressInterval},
	}
	_, err = io.Copy(file, io.TeeReader(resp.Body, counter))
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to download %s: %w", rawURL, err)
	}

	if progress != nil {
		progress(100)
	}
	return nil
}

type progressWriter struct {
	total    int64
	written  int64
	report   func(float64)
	throttle *rate.Sometimes
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.report != nil && w.total > 0 {
		w.throttle.Do(func() {
			w.report(float64(w.written) / float64(w.total) * 100)
		})
	}
	return len(p), nil
}
