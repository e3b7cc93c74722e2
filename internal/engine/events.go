package engine

import "github.com/BadgerOps/mediagrab/internal/download"

// EventKind identifies what happened to a slot.
type EventKind string

const (
	EventSearching EventKind = "searching"
	EventFound     EventKind = "found"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
)

// Event is a plain-data status update for one slot. Slot is 1-based.
type Event struct {
	Kind     EventKind
	Slot     int
	Count    int
	PostID   string
	Width    int
	Height   int
	FilePath string
	Bytes    int64
	Audio    download.Audio
	Reason   string
}
