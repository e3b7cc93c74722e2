package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/mediagrab/internal/safety"
)

// ProgressFunc is called periodically to report download progress.
// bytesDownloaded is the number of bytes downloaded so far,
// totalBytes is the declared size of the download (or 0 if unknown).
type ProgressFunc func(bytesDownloaded, totalBytes int64)

// DownloadOptions contains configuration for a single download.
type DownloadOptions struct {
	URL        string
	DestPath   string
	RetryCount int           // total attempts, 0 defaults to 3
	Timeout    time.Duration // per attempt, 0 defaults to 60s
	OnProgress ProgressFunc
}

// DownloadResult contains the result of a successful download.
type DownloadResult struct {
	Path         string        // Path to the downloaded file
	Written      int64         // Bytes actually written
	DeclaredSize int64         // Content-Length from the server, 0 if omitted
	Attempts     int           // Number of attempts made
	Duration     time.Duration // Total download duration
}

// Size is the declared length when the server sent one, otherwise the bytes written.
func (r *DownloadResult) Size() int64 {
	if r.DeclaredSize > 0 {
		return r.DeclaredSize
	}
	return r.Written
}

const (
	defaultAttempts         = 3
	defaultAttemptTimeout   = 60 * time.Second
	defaultProgressInterval = 250 * time.Millisecond
	maxErrorBodyBytes       = 4 * 1024
)

// Client performs streamed HTTP downloads with retry logic.
type Client struct {
	httpClient       *http.Client
	fs               afero.Fs
	logger           *slog.Logger
	userAgent        string
	progressInterval time.Duration
	backoffFunc      func(attempt int) time.Duration
}

// NewClient creates a new download client writing through fs.
func NewClient(fs afero.Fs, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: safety.NewTransport(),
			// No overall Timeout; each attempt is bounded by its own context.
		},
		fs:               fs,
		logger:           logger,
		userAgent:        "mediagrab/1.0",
		progressInterval: defaultProgressInterval,
		backoffFunc:      calculateBackoffDelay,
	}
}

// SetUserAgent overrides the User-Agent header sent with every request.
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.userAgent = ua
	}
}

// Download streams a URL to DestPath, retrying transient failures with
// exponential backoff. Every attempt starts from an empty file; a failed
// download leaves nothing behind.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	if opts.RetryCount <= 0 {
		opts.RetryCount = defaultAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultAttemptTimeout
	}

	if dir := filepath.Dir(opts.DestPath); dir != "" && dir != "." {
		if err := c.fs.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	startTime := time.Now()
	var lastErr error

	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		select {
		case <-ctx.Done():
			c.removePartial(opts.DestPath)
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		default:
		}

		file, err := c.fs.OpenFile(opts.DestPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open file: %w", err)
		}

		result, err := c.downloadAttempt(ctx, file, opts)
		closeErr := file.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close file: %w", closeErr)
		}

		if err == nil {
			result.Attempts = attempt
			result.Duration = time.Since(startTime)
			return result, nil
		}

		lastErr = err
		c.logger.Warn("download attempt failed", "url", opts.URL, "attempt", attempt, "error", err)

		// The caller gave up; an attempt timeout alone is still retryable.
		if ctx.Err() != nil {
			c.removePartial(opts.DestPath)
			return nil, err
		}

		if shouldNotRetry(err) {
			c.removePartial(opts.DestPath)
			return nil, err
		}

		if attempt < opts.RetryCount {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying download", "url", opts.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.removePartial(opts.DestPath)
				return nil, fmt.Errorf("download cancelled during retry: %w", ctx.Err())
			}
		}
	}

	c.removePartial(opts.DestPath)
	return nil, fmt.Errorf("download failed after %d attempts: %w", opts.RetryCount, lastErr)
}

// downloadAttempt performs a single download attempt. The body copy and the
// progress reporter run side by side; the reporter stops once the copy ends.
func (c *Client) downloadAttempt(ctx context.Context, file io.Writer, opts DownloadOptions) (*DownloadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	declared := resp.ContentLength
	if declared < 0 {
		declared = 0
	}

	var written atomic.Int64
	copyDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(copyDone)
		_, err := io.Copy(file, &countingReader{reader: resp.Body, count: &written})
		if err != nil {
			return fmt.Errorf("failed to write to file: %w", err)
		}
		return nil
	})
	if opts.OnProgress != nil {
		g.Go(func() error {
			ticker := time.NewTicker(c.progressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-copyDone:
					return nil
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					opts.OnProgress(written.Load(), declared)
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if opts.OnProgress != nil {
		opts.OnProgress(written.Load(), declared)
	}

	return &DownloadResult{
		Path:         opts.DestPath,
		Written:      written.Load(),
		DeclaredSize: declared,
	}, nil
}

func (c *Client) removePartial(path string) {
	if err := c.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Debug("failed to remove partial file", "path", path, "error", err)
	}
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry.
func shouldNotRetry(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// Don't retry on 4xx errors except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != http.StatusTooManyRequests {
			return true
		}
	}
	return false
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// countingReader tracks bytes read so a concurrent reporter can observe them.
type countingReader struct {
	reader io.Reader
	count  *atomic.Int64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.reader.Read(p)
	if n > 0 {
		cr.count.Add(int64(n))
	}
	return n, err
}
