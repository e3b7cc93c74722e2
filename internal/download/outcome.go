package download

import (
	"fmt"

	"github.com/BadgerOps/mediagrab/internal/source"
)

// Audio is the result of probing a downloaded file for an audio stream.
type Audio int

const (
	// AudioUnknown means no probe ran (not a video) or the probe failed.
	AudioUnknown Audio = iota
	AudioYes
	AudioNo
)

func (a Audio) String() string {
	switch a {
	case AudioYes:
		return "yes"
	case AudioNo:
		return "no"
	default:
		return "unknown"
	}
}

// Bool returns nil for AudioUnknown, otherwise a pointer to the answer.
func (a Audio) Bool() *bool {
	if a == AudioUnknown {
		return nil
	}
	v := a == AudioYes
	return &v
}

// Outcome is the result of one download attempt. Exactly one of
// (FilePath, ByteSize, Post) or Error is populated.
type Outcome struct {
	Succeeded bool
	FilePath  string
	ByteSize  int64
	Post      *source.Post
	Error     string
	Audio     Audio
}

func succeeded(path string, size int64, post *source.Post, audio Audio) Outcome {
	return Outcome{
		Succeeded: true,
		FilePath:  path,
		ByteSize:  size,
		Post:      post,
		Audio:     audio,
	}
}

func failed(format string, args ...any) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...)}
}

// Valid reports whether the outcome holds exactly one of its two shapes.
func (o Outcome) Valid() bool {
	if o.Succeeded {
		return o.FilePath != "" && o.Post != nil && o.Error == ""
	}
	return o.Error != "" && o.FilePath == "" && o.Post == nil && o.ByteSize == 0
}

// DownloadError reports a transfer that could not be started at all.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("download: %v", e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
