package stats

import (
	"context"
	"log/slog"
	"sync"
)

// Backend loads and saves the whole ledger.
type Backend interface {
	Load(ctx context.Context) (*Ledger, error)
	Save(ctx context.Context, l *Ledger) error
	Close() error
}

// Recorder appends downloads to the ledger. Every call loads fresh state,
// and the mutex keeps concurrent callers from losing each other's updates.
type Recorder struct {
	mu      sync.Mutex
	backend Backend
	logger  *slog.Logger
}

// NewRecorder creates a Recorder over backend.
func NewRecorder(backend Backend, logger *slog.Logger) *Recorder {
	return &Recorder{
		backend: backend,
		logger:  logger.With("component", "stats"),
	}
}

// Record runs one load-mutate-save cycle. A failed save is logged and the
// update is lost; recording never fails the caller.
func (r *Recorder) Record(ctx context.Context, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l := r.load(ctx)
	l.Apply(rec)
	if err := r.backend.Save(ctx, l); err != nil {
		r.logger.Error("failed to save stats, download not recorded", "post_id", rec.ID, "error", err)
		return
	}
	r.logger.Debug("recorded download", "post_id", rec.ID, "category", rec.Category, "type", rec.Type)
}

// Current returns a snapshot of the ledger without saving anything.
func (r *Recorder) Current(ctx context.Context) *Ledger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(ctx)
}

// load falls back to an empty ledger when the stored one cannot be read.
func (r *Recorder) load(ctx context.Context) *Ledger {
	l, err := r.backend.Load(ctx)
	if err != nil {
		r.logger.Warn("stats unreadable, starting from an empty ledger", "error", err)
		return NewLedger()
	}
	return l
}
