package engine

import (
	"testing"
	"time"
)

func TestBatchTrackerCounts(t *testing.T) {
	tr := NewBatchTracker(3)

	tr.Observe(Event{Kind: EventSearching, Slot: 1, Count: 3})
	if p := tr.Snapshot(); p.Phase != PhaseSearching || p.Slot != 1 {
		t.Fatalf("unexpected snapshot after searching: %+v", p)
	}

	tr.Observe(Event{Kind: EventFound, Slot: 1, PostID: "101"})
	if p := tr.Snapshot(); p.Phase != PhaseDownloading || p.CurrentPostID != "101" {
		t.Fatalf("unexpected snapshot after found: %+v", p)
	}

	tr.Observe(Event{Kind: EventSucceeded, Slot: 1, PostID: "101", Bytes: 2048})
	tr.Observe(Event{Kind: EventSearching, Slot: 2})
	tr.Observe(Event{Kind: EventFailed, Slot: 2, Reason: "content not found"})
	tr.Observe(Event{Kind: EventSearching, Slot: 3})
	tr.Observe(Event{Kind: EventFound, Slot: 3, PostID: "103"})
	tr.Observe(Event{Kind: EventSucceeded, Slot: 3, PostID: "103", Bytes: 1024})

	p := tr.Snapshot()
	if p.CompletedSlots != 2 || p.FailedSlots != 1 {
		t.Errorf("completed=%d failed=%d, want 2/1", p.CompletedSlots, p.FailedSlots)
	}
	if p.BatchBytes != 3072 {
		t.Errorf("BatchBytes = %d, want 3072", p.BatchBytes)
	}
	if p.Phase != PhaseComplete || !p.Done() {
		t.Errorf("expected complete phase, got %s", p.Phase)
	}
	if len(p.RecentEvents) != 3 {
		t.Fatalf("expected 3 recent events, got %d", len(p.RecentEvents))
	}
	if p.RecentEvents[0].PostID != "103" || p.RecentEvents[1].Status != "failed" {
		t.Errorf("recent events not newest-first: %+v", p.RecentEvents)
	}
}

func TestBatchTrackerThrottlesBytes(t *testing.T) {
	tr := NewBatchTracker(1)
	clock := time.Unix(1000, 0)
	tr.now = func() time.Time { return clock }

	if !tr.UpdateBytes(10, 100) {
		t.Fatal("first update should not be throttled")
	}
	if tr.UpdateBytes(20, 100) {
		t.Fatal("second update within the throttle window should be dropped")
	}
	if !tr.UpdateBytes(100, 100) {
		t.Fatal("final update should never be throttled")
	}
	clock = clock.Add(time.Second)
	if !tr.UpdateBytes(50, 0) {
		t.Fatal("update after the window should be recorded")
	}

	p := tr.Snapshot()
	if p.AssetBytes != 50 || p.AssetTotal != 0 || p.AssetPercent != 0 {
		t.Errorf("unexpected asset progress: %+v", p)
	}
}

func TestBatchTrackerPercentAndRecentCap(t *testing.T) {
	tr := NewBatchTracker(30)
	tr.UpdateBytes(25, 100)
	if pct := tr.Snapshot().AssetPercent; pct != 25 {
		t.Errorf("AssetPercent = %v, want 25", pct)
	}

	for i := 1; i <= 25; i++ {
		tr.Observe(Event{Kind: EventFailed, Slot: i, Reason: "x"})
	}
	p := tr.Snapshot()
	if len(p.RecentEvents) != maxRecentEvents {
		t.Errorf("recent events = %d, want %d", len(p.RecentEvents), maxRecentEvents)
	}
	if p.AssetBytes != 0 {
		t.Errorf("asset progress should reset after a slot ends, got %d", p.AssetBytes)
	}
}
