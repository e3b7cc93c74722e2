package engine

import (
	"sync"
	"time"
)

// BatchPhase represents the current phase of a batch.
type BatchPhase string

const (
	PhaseSearching   BatchPhase = "searching"
	PhaseDownloading BatchPhase = "downloading"
	PhaseComplete    BatchPhase = "complete"
)

// SlotEvent records a finished slot for the recent activity log.
type SlotEvent struct {
	Slot   int    `json:"slot"`
	PostID string `json:"post_id,omitempty"`
	Status string `json:"status"` // "completed", "failed"
	Error  string `json:"error,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// BatchProgress is a snapshot of the current batch state.
type BatchProgress struct {
	Phase          BatchPhase  `json:"phase"`
	Slot           int         `json:"slot"`
	TotalSlots     int         `json:"total_slots"`
	CompletedSlots int         `json:"completed_slots"`
	FailedSlots    int         `json:"failed_slots"`
	CurrentPostID  string      `json:"current_post_id,omitempty"`
	AssetBytes     int64       `json:"asset_bytes"`
	AssetTotal     int64       `json:"asset_total"` // 0 when the server did not declare a length
	AssetPercent   float64     `json:"asset_percent"`
	BatchBytes     int64       `json:"batch_bytes"`
	BytesPerSecond int64       `json:"bytes_per_second"`
	ETA            string      `json:"eta,omitempty"`
	RecentEvents   []SlotEvent `json:"recent_events,omitempty"`
	StartTime      time.Time   `json:"start_time"`
	Elapsed        string      `json:"elapsed"`
}

// Done reports whether every slot has finished.
func (p BatchProgress) Done() bool {
	return p.CompletedSlots+p.FailedSlots >= p.TotalSlots
}

const (
	maxRecentEvents         = 20
	defaultProgressThrottle = 250 * time.Millisecond
)

// BatchTracker folds runner events and byte progress into snapshots.
type BatchTracker struct {
	mu sync.Mutex

	phase          BatchPhase
	slot           int
	totalSlots     int
	completedSlots int
	failedSlots    int
	currentPostID  string
	assetBytes     int64
	assetTotal     int64
	finishedBytes  int64
	startTime      time.Time
	recentEvents   []SlotEvent

	// Throttle byte updates so a renderer is not flooded.
	throttle   time.Duration
	lastUpdate time.Time
	now        func() time.Time
}

// NewBatchTracker creates a tracker for a batch of totalSlots.
func NewBatchTracker(totalSlots int) *BatchTracker {
	return &BatchTracker{
		phase:      PhaseSearching,
		totalSlots: totalSlots,
		startTime:  time.Now(),
		throttle:   defaultProgressThrottle,
		now:        time.Now,
	}
}

// Observe applies a runner event.
func (t *BatchTracker) Observe(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.slot = ev.Slot
	switch ev.Kind {
	case EventSearching:
		t.phase = PhaseSearching
		t.currentPostID = ""
		t.assetBytes, t.assetTotal = 0, 0
	case EventFound:
		t.phase = PhaseDownloading
		t.currentPostID = ev.PostID
	case EventSucceeded:
		t.completedSlots++
		t.finishedBytes += ev.Bytes
		t.assetBytes, t.assetTotal = 0, 0
		t.addRecentEvent(SlotEvent{Slot: ev.Slot, PostID: ev.PostID, Status: "completed", Size: ev.Bytes})
	case EventFailed:
		t.failedSlots++
		t.assetBytes, t.assetTotal = 0, 0
		t.addRecentEvent(SlotEvent{Slot: ev.Slot, PostID: t.currentPostID, Status: "failed", Error: ev.Reason})
	}
	if t.completedSlots+t.failedSlots >= t.totalSlots {
		t.phase = PhaseComplete
	}
}

// UpdateBytes records transfer progress for the current asset. It reports
// false when the update was throttled; the final update (done == total) is
// never throttled.
func (t *BatchTracker) UpdateBytes(done, total int64) bool {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	complete := total > 0 && done >= total
	if !complete && !t.lastUpdate.IsZero() && now.Sub(t.lastUpdate) < t.throttle {
		return false
	}
	t.lastUpdate = now
	t.assetBytes = done
	t.assetTotal = total
	return true
}

// addRecentEvent prepends an event to the rolling log. Must be called with t.mu held.
func (t *BatchTracker) addRecentEvent(ev SlotEvent) {
	t.recentEvents = append([]SlotEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > maxRecentEvents {
		t.recentEvents = t.recentEvents[:maxRecentEvents]
	}
}

// Snapshot returns a copy of the current progress state.
func (t *BatchTracker) Snapshot() BatchProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.assetTotal > 0 {
		pct = float64(t.assetBytes) / float64(t.assetTotal) * 100
	}

	recentEvents := make([]SlotEvent, len(t.recentEvents))
	copy(recentEvents, t.recentEvents)

	batchBytes := t.finishedBytes + t.assetBytes
	elapsed := t.now().Sub(t.startTime)
	var bytesPerSecond int64
	var eta string
	if elapsed > time.Second && batchBytes > 0 {
		bytesPerSecond = int64(float64(batchBytes) / elapsed.Seconds())
		if bytesPerSecond > 0 && t.assetTotal > t.assetBytes {
			remaining := t.assetTotal - t.assetBytes
			etaDuration := time.Duration(float64(remaining) / float64(bytesPerSecond) * float64(time.Second))
			eta = etaDuration.Truncate(time.Second).String()
		}
	}

	return BatchProgress{
		Phase:          t.phase,
		Slot:           t.slot,
		TotalSlots:     t.totalSlots,
		CompletedSlots: t.completedSlots,
		FailedSlots:    t.failedSlots,
		CurrentPostID:  t.currentPostID,
		AssetBytes:     t.assetBytes,
		AssetTotal:     t.assetTotal,
		AssetPercent:   pct,
		BatchBytes:     batchBytes,
		BytesPerSecond: bytesPerSecond,
		ETA:            eta,
		RecentEvents:   recentEvents,
		StartTime:      t.startTime,
		Elapsed:        elapsed.Truncate(time.Second).String(),
	}
}
