// Package engine drives batch acquisition: search, dedupe, download and
// record, one slot at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BadgerOps/mediagrab/internal/download"
	"github.com/BadgerOps/mediagrab/internal/source"
	"github.com/BadgerOps/mediagrab/internal/stats"
)

// DefaultMaxAttempts bounds the fetch-unique sub-loop for one slot.
const DefaultMaxAttempts = 10

// ErrNotFound is the failure reason for a slot that got no fresh post.
var ErrNotFound = errors.New("content not found")

// Request describes one batch.
type Request struct {
	Count    int
	Tags     []string
	Type     source.MediaType
	Category string // category name, or "Custom" for free-form tags
}

// Fetcher downloads posts into category directories.
type Fetcher interface {
	Download(ctx context.Context, post *source.Post, category string) (download.Outcome, error)
	DownloadVideo(ctx context.Context, post *source.Post, category string) (download.Outcome, error)
	Dir(category string) string
}

// Recorder persists completed downloads.
type Recorder interface {
	Record(ctx context.Context, rec stats.Record)
}

// SlotResult is the final state of one slot.
type SlotResult struct {
	Slot      int
	Succeeded bool
	PostID    string
	FilePath  string
	Bytes     int64
	Audio     download.Audio
	Error     string
}

// Summary is handed to the presentation layer when a batch ends.
type Summary struct {
	RunID      string
	Source     string
	Category   string
	Successful int
	Failed     int
	Directory  string
	Bytes      int64
	Results    []SlotResult
	Started    time.Time
	Finished   time.Time
}

// Runner executes batches against one source.
type Runner struct {
	source   source.Source
	fetcher  Fetcher
	recorder Recorder
	logger   *slog.Logger

	// MaxAttempts caps searches per slot; zero means DefaultMaxAttempts.
	MaxAttempts int
	// OnEvent, when set, receives every slot event synchronously.
	OnEvent func(Event)

	now func() time.Time
}

// NewRunner creates a Runner. recorder may be nil to skip statistics.
func NewRunner(src source.Source, fetcher Fetcher, recorder Recorder, logger *slog.Logger) *Runner {
	return &Runner{
		source:   src,
		fetcher:  fetcher,
		recorder: recorder,
		logger:   logger.With("component", "batch", "source", src.Name()),
		now:      time.Now,
	}
}

func (r *Runner) emit(ev Event) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

// Run processes req.Count slots in order. Per-slot failures are recorded in
// the summary; only a source configuration problem or cancellation ends the
// batch early, and then the partial summary is returned with the error.
func (r *Runner) Run(ctx context.Context, req Request) (*Summary, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", req.Count)
	}
	tags := strings.TrimSpace(strings.Join(req.Tags, " "))
	if tags == "" {
		return nil, errors.New("at least one tag is required")
	}
	if req.Type == "" {
		req.Type = source.Image
	}

	dir := r.fetcher.Dir(req.Category)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	summary := &Summary{
		RunID:     uuid.NewString(),
		Source:    r.source.Name(),
		Category:  req.Category,
		Directory: dir,
		Started:   r.now(),
	}
	log := r.logger.With("run_id", summary.RunID)
	log.Info("batch started", "count", req.Count, "tags", tags, "type", req.Type, "category", req.Category)

	seen := make(map[string]struct{}, req.Count)
	var runErr error

	for slot := 1; slot <= req.Count; slot++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		result, err := r.runSlot(ctx, req, tags, slot, seen)
		if result.Slot > 0 {
			summary.Results = append(summary.Results, result)
			if result.Succeeded {
				summary.Successful++
				summary.Bytes += result.Bytes
			} else {
				summary.Failed++
			}
		}
		if err != nil {
			runErr = err
			break
		}
	}

	summary.Finished = r.now()
	log.Info("batch finished",
		"successful", summary.Successful,
		"failed", summary.Failed,
		"bytes", summary.Bytes,
		"duration", summary.Finished.Sub(summary.Started).Truncate(time.Millisecond),
	)
	if runErr != nil {
		return summary, runErr
	}
	return summary, nil
}

// runSlot returns an error only for conditions that must stop the batch. A
// slot interrupted by cancellation is still returned as failed.
func (r *Runner) runSlot(ctx context.Context, req Request, tags string, slot int, seen map[string]struct{}) (SlotResult, error) {
	r.emit(Event{Kind: EventSearching, Slot: slot, Count: req.Count})

	post, err := r.findUnique(ctx, req.Type, tags, seen)
	if err != nil {
		var cfgErr *source.ConfigurationError
		if errors.As(err, &cfgErr) {
			return SlotResult{}, err
		}
		if ctx.Err() != nil {
			return r.fail(slot, req.Count, "interrupted"), ctx.Err()
		}
		r.logger.Debug("search failed", "slot", slot, "error", err)
	}
	if post == nil {
		return r.fail(slot, req.Count, ErrNotFound.Error()), nil
	}

	seen[post.ID] = struct{}{}
	r.emit(Event{Kind: EventFound, Slot: slot, Count: req.Count, PostID: post.ID, Width: post.Width, Height: post.Height})

	var outcome download.Outcome
	if req.Type == source.Video {
		outcome, err = r.fetcher.DownloadVideo(ctx, post, req.Category)
	} else {
		outcome, err = r.fetcher.Download(ctx, post, req.Category)
	}
	if err != nil {
		return r.fail(slot, req.Count, err.Error()), nil
	}
	if !outcome.Succeeded {
		if ctx.Err() != nil {
			return r.fail(slot, req.Count, outcome.Error), ctx.Err()
		}
		return r.fail(slot, req.Count, outcome.Error), nil
	}

	if r.recorder != nil {
		r.recorder.Record(ctx, r.buildRecord(req, post, outcome))
	}

	r.emit(Event{
		Kind:     EventSucceeded,
		Slot:     slot,
		Count:    req.Count,
		PostID:   post.ID,
		Width:    post.Width,
		Height:   post.Height,
		FilePath: outcome.FilePath,
		Bytes:    outcome.ByteSize,
		Audio:    outcome.Audio,
	})
	return SlotResult{
		Slot:      slot,
		Succeeded: true,
		PostID:    post.ID,
		FilePath:  outcome.FilePath,
		Bytes:     outcome.ByteSize,
		Audio:     outcome.Audio,
	}, nil
}

// findUnique searches until it gets a post not yet seen in this batch. A nil
// post with a nil error means the source has nothing (new) to offer.
func (r *Runner) findUnique(ctx context.Context, mediaType source.MediaType, tags string, seen map[string]struct{}) (*source.Post, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		var (
			post *source.Post
			err  error
		)
		if mediaType == source.Video {
			post, err = r.source.FindOneVideo(ctx, tags)
		} else {
			post, err = r.source.FindOne(ctx, tags)
		}
		if err != nil {
			return nil, err
		}
		if post == nil {
			return nil, nil
		}
		if _, dup := seen[post.ID]; !dup {
			return post, nil
		}
		r.logger.Debug("duplicate post, searching again", "post_id", post.ID, "attempt", attempt)
	}
	return nil, nil
}

func (r *Runner) fail(slot, count int, reason string) SlotResult {
	r.emit(Event{Kind: EventFailed, Slot: slot, Count: count, Reason: reason})
	r.logger.Warn("slot failed", "slot", slot, "reason", reason)
	return SlotResult{Slot: slot, Error: reason}
}

// buildRecord types the record by what was fetched: a video container counts
// as video even when the batch asked for any content.
func (r *Runner) buildRecord(req Request, post *source.Post, outcome download.Outcome) stats.Record {
	mediaType := stats.TypeImage
	if req.Type == source.Video || source.IsVideoURL(post.AssetURL) {
		mediaType = stats.TypeVideo
	}
	return stats.Record{
		ID:        stats.PostID(post.ID),
		Category:  req.Category,
		Type:      mediaType,
		Size:      outcome.ByteSize,
		Width:     post.Width,
		Height:    post.Height,
		Timestamp: r.now(),
		FilePath:  outcome.FilePath,
		Source:    post.Source,
		HasAudio:  outcome.Audio.Bool(),
	}
}
