package experiment

import (
	"context"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/host"
)

// Display presents text to the participant.
type Display interface {
	host.WarningDisplay

	// ShowText replaces the text shown under tag.
	ShowText(tag, text string)
	ClearText()
}

// VideoPlayer plays instruction and countdown videos. Implementations call
// done exactly once when playback ends, from any goroutine.
type VideoPlayer interface {
	Play(ctx context.Context, name string, skippable bool, done func()) error
}

// Recorder captures and plays back participant audio.
type Recorder interface {
	StartRecording(ctx context.Context, path string) error
	// StopRecording ends the current recording and returns its path.
	StopRecording(ctx context.Context) (string, error)
	// Playback plays path and calls done when finished, from any goroutine.
	Playback(ctx context.Context, path string, done func()) error
}

// Syncbox drives the hardware sync pulse generator.
type Syncbox interface {
	StartPulse(ctx context.Context) error
	StopPulse(ctx context.Context) error
}

// TestSyncbox pulses sb for length, then runs done on the scheduler goroutine.
// Must be called on the scheduler goroutine.
func TestSyncbox(ctx context.Context, m *host.Manager, sb Syncbox, length time.Duration, done eventqueue.Item) error {
	if err := sb.StartPulse(ctx); err != nil {
		return err
	}
	q := m.Queue()
	q.EnqueueAfter(eventqueue.NewItem("syncbox stop", func(ctx context.Context) error {
		return sb.StopPulse(ctx)
	}), length)
	q.EnqueueAfter(done, length)
	return nil
}
