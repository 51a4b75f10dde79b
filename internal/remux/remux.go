// Package remux converts a raw transport-stream download into an MP4
// container by shelling out to ffmpeg. Failures here are soft: callers keep
// the raw file and log a warning.
package remux

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RemuxError wraps any failure to run the remux binary to completion.
type RemuxError struct {
	Path string
	Err  error
}

func (e *RemuxError) Error() string {
	return fmt.Sprintf("failed to remux %s: %v", e.Path, e.Err)
}

func (e *RemuxError) Unwrap() error {
	return e.Err
}

// Remuxer drives an external ffmpeg binary.
type Remuxer struct {
	// FFmpegPath locates the binary; empty disables remuxing.
	FFmpegPath string

	// Debug passes ffmpeg's own output through to the terminal.
	Debug bool
}

// New creates a Remuxer for the given binary path.
func New(ffmpegPath string, debug bool) *Remuxer {
	return &Remuxer{FFmpegPath: ffmpegPath, Debug: debug}
}

// Enabled reports whether a remux binary is configured.
func (r *Remuxer) Enabled() bool {
	return r != nil && r.FFmpegPath != ""
}

// MP4Path returns the sibling .mp4 path for a raw download.
func MP4Path(rawPath string) string {
	ext := filepath.Ext(rawPath)

	return strings.TrimSuffix(rawPath, ext) + ".mp4"
}

// Remux copies the streams of rawPath into an MP4 next to it without
// re-encoding. Non-zero exit, signal death and spawn failure all surface as
// RemuxError.
func (r *Remuxer) Remux(ctx context.Context, rawPath string) error {
	cmd := exec.CommandContext(ctx, r.FFmpegPath, "-nostdin", "-i", rawPath, "-c", "copy", MP4Path(rawPath))

	if r.Debug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Run(); err != nil {
		return &RemuxError{Path: rawPath, Err: err}
	}

	return nil
}
