package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/flytam/filenamify"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/BadgerOps/mediagrab/internal/safety"
	"github.com/BadgerOps/mediagrab/internal/source"
)

// Options configures a Downloader.
type Options struct {
	BaseDir    string
	Retries    int           // retries after the first attempt
	Timeout    time.Duration // per attempt, 0 defaults to 60s
	OnProgress ProgressFunc
}

// Downloader turns a Post into a file under <BaseDir>/<category>/.
type Downloader struct {
	client  *Client
	fs      afero.Fs
	prober  Prober
	logger  *slog.Logger
	baseDir string
	retries int
	timeout time.Duration

	// OnProgress receives bytes transferred for the current asset.
	OnProgress ProgressFunc

	now   func() time.Time
	token func() string
}

// NewDownloader creates a Downloader. prober may be nil to skip audio probing.
func NewDownloader(client *Client, fs afero.Fs, prober Prober, opts Options, logger *slog.Logger) *Downloader {
	if opts.BaseDir == "" {
		opts.BaseDir = "downloads"
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Downloader{
		client:     client,
		fs:         fs,
		prober:     prober,
		logger:     logger.With("component", "downloader"),
		baseDir:    opts.BaseDir,
		retries:    opts.Retries,
		timeout:    opts.Timeout,
		OnProgress: opts.OnProgress,
		now:        time.Now,
		token:      shortToken,
	}
}

var (
	whitespaceRun  = regexp.MustCompile(`\s+`)
	disallowedChar = regexp.MustCompile(`[^a-z0-9_]`)
)

// uncategorized is used when a label normalizes to nothing.
const uncategorized = "uncategorized"

// NormalizeCategory lower-cases label, turns whitespace runs into single
// underscores and drops anything outside [a-z0-9_].
func NormalizeCategory(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = whitespaceRun.ReplaceAllString(s, "_")
	s = disallowedChar.ReplaceAllString(s, "")
	if s == "" {
		return uncategorized
	}
	return s
}

// Dir returns the directory assets for category are written to.
func (d *Downloader) Dir(category string) string {
	return filepath.Join(d.baseDir, NormalizeCategory(category))
}

// Download streams post's asset into the category directory. Transfer failures
// come back as a failed Outcome; an error is returned only when the request
// cannot be started.
func (d *Downloader) Download(ctx context.Context, post *source.Post, category string) (Outcome, error) {
	if post == nil {
		return Outcome{}, &DownloadError{Err: errors.New("no post to download")}
	}
	if _, err := safety.ValidateHTTPURL(post.AssetURL); err != nil {
		return Outcome{}, &DownloadError{URL: post.AssetURL, Err: err}
	}

	dir := d.Dir(category)
	if err := d.fs.MkdirAll(dir, 0755); err != nil {
		return Outcome{}, &DownloadError{URL: post.AssetURL, Err: fmt.Errorf("creating %s: %w", dir, err)}
	}

	dest := filepath.Join(dir, d.fileName(post))
	if _, err := safety.EnsureUnderRoot(d.baseDir, dest); err != nil {
		return Outcome{}, &DownloadError{URL: post.AssetURL, Err: err}
	}

	log := d.logger.With("post_id", post.ID, "path", dest)
	log.Debug("downloading asset", "url", post.AssetURL)

	result, err := d.client.Download(ctx, DownloadOptions{
		URL:        post.AssetURL,
		DestPath:   dest,
		RetryCount: d.retries + 1,
		Timeout:    d.timeout,
		OnProgress: d.OnProgress,
	})
	if err != nil {
		log.Warn("download failed", "error", err)
		return failed("%v", err), nil
	}

	audio := d.probe(ctx, dest)
	log.Info("downloaded asset", "bytes", result.Size(), "attempts", result.Attempts, "audio", audio)
	return succeeded(dest, result.Size(), post, audio), nil
}

// DownloadVideo is Download for video containers only. Other assets are
// rejected without touching the network.
func (d *Downloader) DownloadVideo(ctx context.Context, post *source.Post, category string) (Outcome, error) {
	if post == nil {
		return Outcome{}, &DownloadError{Err: errors.New("no post to download")}
	}
	if ext := source.Extension(post.AssetURL); !source.IsVideoExtension(ext) {
		return failed("not a video asset (%s)", ext), nil
	}
	return d.Download(ctx, post, category)
}

// probe only runs for video containers; any failure leaves the answer unknown.
func (d *Downloader) probe(ctx context.Context, path string) Audio {
	if d.prober == nil || !source.IsVideoExtension(filepath.Ext(path)) {
		return AudioUnknown
	}
	hasAudio, err := d.prober.HasAudio(ctx, path)
	if err != nil {
		d.logger.Debug("audio probe failed", "path", path, "error", err)
		return AudioUnknown
	}
	if hasAudio {
		return AudioYes
	}
	return AudioNo
}

// fileName is <source>_<id>_<unix millis>_<token><ext>.
func (d *Downloader) fileName(post *source.Post) string {
	prefix := NormalizeCategory(post.Source)
	if prefix == uncategorized {
		prefix = "media"
	}
	id, err := filenamify.Filenamify(post.ID, filenamify.Options{Replacement: "-"})
	if err != nil || id == "" {
		id = "post"
	}
	return fmt.Sprintf("%s_%s_%d_%s%s", prefix, id, d.now().UnixMilli(), d.token(), source.Extension(post.AssetURL))
}

func shortToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
