package download

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Prober inspects a downloaded media file for an audio stream.
type Prober interface {
	HasAudio(ctx context.Context, path string) (bool, error)
}

// ProbeError reports a failed metadata probe. It never fails a download.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

const defaultProbeTimeout = 15 * time.Second

// FFprobe runs the ffprobe binary and lists audio streams.
type FFprobe struct {
	Command string
	Timeout time.Duration
}

// NewFFprobe returns a prober for the given ffprobe command ("ffprobe" if empty).
func NewFFprobe(command string) *FFprobe {
	if command == "" {
		command = "ffprobe"
	}
	return &FFprobe{Command: command, Timeout: defaultProbeTimeout}
}

// HasAudio reports whether ffprobe finds at least one audio stream in path.
func (p *FFprobe) HasAudio(ctx context.Context, path string) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Command,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return false, &ProbeError{Path: path, Err: fmt.Errorf("%w: %s", err, msg)}
		}
		return false, &ProbeError{Path: path, Err: err}
	}

	for _, line := range strings.Split(string(output), "\n") {
		if strings.TrimSpace(line) == "audio" {
			return true, nil
		}
	}
	return false, nil
}
