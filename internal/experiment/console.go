package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
)

// ConsoleDisplay writes every display change as a line to w.
type ConsoleDisplay struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleDisplay(w io.Writer) *ConsoleDisplay {
	return &ConsoleDisplay{w: w}
}

func (d *ConsoleDisplay) ShowText(tag, text string) {
	d.printf("[%s] %s\n", tag, text)
}

func (d *ConsoleDisplay) ClearText() {
	d.printf("[clear]\n")
}

func (d *ConsoleDisplay) ShowWarning(msg string) {
	d.printf("[warning] %s\n", msg)
}

func (d *ConsoleDisplay) ClearWarning() {
	d.printf("[warning cleared]\n")
}

func (d *ConsoleDisplay) printf(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = fmt.Fprintf(d.w, format, args...)
}

// InstantVideo finishes every video as soon as it starts.
type InstantVideo struct {
	Display Display
}

func (v InstantVideo) Play(ctx context.Context, name string, skippable bool, done func()) error {
	if v.Display != nil {
		v.Display.ShowText("video", name)
	}
	done()
	return nil
}

// ErrNotRecording is returned by StopRecording without a matching start.
var ErrNotRecording = errors.New("recorder is not recording")

// FileRecorder creates an empty placeholder file for each recording, so
// session directories have the same layout as with a real microphone.
type FileRecorder struct {
	fs afero.Fs

	mu      sync.Mutex
	current string
}

func NewFileRecorder(fs afero.Fs) *FileRecorder {
	return &FileRecorder{fs: fs}
}

func (r *FileRecorder) StartRecording(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := afero.WriteFile(r.fs, path, nil, 0o644); err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	r.current = path
	return nil
}

func (r *FileRecorder) StopRecording(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == "" {
		return "", ErrNotRecording
	}
	path := r.current
	r.current = ""
	return path, nil
}

func (r *FileRecorder) Playback(ctx context.Context, path string, done func()) error {
	if _, err := r.fs.Stat(path); err != nil {
		return fmt.Errorf("playback: %w", err)
	}
	done()
	return nil
}

// NopSyncbox is used when no pulse generator is attached.
type NopSyncbox struct{}

func (NopSyncbox) StartPulse(context.Context) error { return nil }
func (NopSyncbox) StopPulse(context.Context) error  { return nil }
