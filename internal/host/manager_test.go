package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahana-sysadmin/UnityEPL/internal/config"
	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/logging"
	"github.com/kahana-sysadmin/UnityEPL/internal/persistence"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

var (
	epoch   = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	testRun = api.RunIdentity{Participant: "LTP001", Session: 2}
)

type fakeHostPC struct {
	mu       sync.Mutex
	messages []string
	statuses []string
	err      error
}

func (h *fakeHostPC) SendMessage(ctx context.Context, msgType string, data map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.messages = append(h.messages, msgType)
	return nil
}

func (h *fakeHostPC) SetStatus(ctx context.Context, status string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, status)
	return nil
}

type fakeWarnings struct {
	current string
	shown   int
}

func (w *fakeWarnings) ShowWarning(msg string) {
	w.current = msg
	w.shown++
}

func (w *fakeWarnings) ClearWarning() { w.current = "" }

type managerHarness struct {
	m        *Manager
	q        *eventqueue.Queue
	clock    *eventqueue.ManualClock
	events   *persistence.InMemoryEventStore
	hostPC   *fakeHostPC
	warnings *fakeWarnings
}

func newHarness(t *testing.T, system map[string]any) *managerHarness {
	t.Helper()
	clock := eventqueue.NewManualClock(epoch)
	q := eventqueue.New(eventqueue.WithClock(clock), eventqueue.WithLogger(logging.Discard()))
	h := &managerHarness{
		q:        q,
		clock:    clock,
		events:   persistence.NewInMemoryEventStore(),
		hostPC:   &fakeHostPC{},
		warnings: &fakeWarnings{},
	}
	h.m = NewManager(q, config.NewSettings(system),
		WithEventStore(h.events),
		WithLogger(logging.Discard()),
		WithHostPC(h.hostPC),
		WithWarningDisplay(h.warnings),
	)
	h.m.SetIdentity(testRun)
	return h
}

func (h *managerHarness) tick() {
	h.q.Tick(context.Background(), 10)
}

func (h *managerHarness) eventTypes(t *testing.T) []string {
	t.Helper()
	evs, err := h.events.ListEvents(context.Background(), testRun)
	require.NoError(t, err)
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestManager_DoRunsOnNextTick(t *testing.T) {
	h := newHarness(t, nil)
	ran := false
	h.m.Do(eventqueue.Action("flag", func() { ran = true }))

	assert.False(t, ran)
	h.tick()
	assert.True(t, ran)
}

func TestManager_DoInWaitsForDelay(t *testing.T) {
	h := newHarness(t, nil)
	ran := false
	h.m.DoIn(eventqueue.Action("flag", func() { ran = true }), time.Second)

	h.tick()
	assert.False(t, ran)
	assert.Equal(t, 1, h.q.Pending())

	h.clock.Advance(time.Second)
	h.tick()
	assert.True(t, ran)
}

func TestManager_DoRepeating(t *testing.T) {
	h := newHarness(t, nil)
	count := 0
	rep, err := h.m.DoRepeating(eventqueue.Action("count", func() { count++ }), 100*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.clock.Advance(100 * time.Millisecond)
		h.tick()
	}
	rep.Cancel()
	h.clock.Advance(100 * time.Millisecond)
	h.tick()
	assert.Equal(t, 3, count)

	_, err = h.m.DoRepeating(eventqueue.Action("bad", func() {}), 0)
	assert.ErrorIs(t, err, eventqueue.ErrInvalidInterval)
}

func TestManager_KeyHandlersAreSingleShot(t *testing.T) {
	h := newHarness(t, nil)
	var got []api.KeyEvent
	h.m.RegisterKeyHandler("capture", func(ctx context.Context, ev api.KeyEvent) error {
		got = append(got, ev)
		return nil
	})
	assert.Equal(t, 1, h.m.PendingKeyHandlers())

	assert.Equal(t, 1, h.m.Key("Space", true))
	assert.Equal(t, 0, h.m.Key("Y", true))
	h.tick()

	require.Len(t, got, 1)
	assert.Equal(t, api.KeyEvent{Key: "space", Down: true}, got[0])
	assert.Equal(t, []string{api.EventKey, api.EventKey}, h.eventTypes(t))
}

func TestManager_ClearKeyHandlers(t *testing.T) {
	h := newHarness(t, nil)
	h.m.RegisterKeyHandler("a", func(context.Context, api.KeyEvent) error { return nil })
	h.m.ClearKeyHandlers()
	assert.Equal(t, 0, h.m.Key("a", true))
}

func TestManager_QuitKey(t *testing.T) {
	h := newHarness(t, nil)

	h.m.Key("Escape", false)
	assert.False(t, h.m.Quitting(), "release does not quit")

	h.m.RegisterKeyHandler("capture", func(context.Context, api.KeyEvent) error { return nil })
	assert.Equal(t, 0, h.m.Key("Escape", true))
	assert.True(t, h.m.Quitting())
	assert.Equal(t, 1, h.m.PendingKeyHandlers(), "quit key is not delivered")

	select {
	case <-h.m.Done():
	default:
		t.Fatal("Done should be closed after quit")
	}
	h.m.Quit()
}

func TestManager_QuitKeyDisabled(t *testing.T) {
	q := eventqueue.New(eventqueue.WithLogger(logging.Discard()))
	m := NewManager(q, nil, WithQuitKey(""), WithLogger(logging.Discard()))
	m.Key("escape", true)
	assert.False(t, m.Quitting())
}

func TestManager_Budget(t *testing.T) {
	h := newHarness(t, nil)
	n, err := h.m.Budget()
	require.NoError(t, err)
	assert.Equal(t, eventqueue.DefaultBudget, n)

	h = newHarness(t, map[string]any{"eventsPerFrame": 3})
	n, err = h.m.Budget()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	h = newHarness(t, map[string]any{"eventsPerFrame": 0})
	_, err = h.m.Budget()
	assert.ErrorIs(t, err, ErrInvalidBudget)

	h = newHarness(t, map[string]any{"eventsPerFrame": "lots"})
	_, err = h.m.Budget()
	assert.ErrorIs(t, err, config.ErrSettingType)
}

func TestManager_ReportEvent(t *testing.T) {
	h := newHarness(t, nil)
	h.clock.Advance(time.Minute)

	require.NoError(t, h.m.ReportEvent(context.Background(), "rest", map[string]any{"list": 1}))

	evs, err := h.events.ListEvents(context.Background(), testRun)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "rest", evs[0].Type)
	assert.Equal(t, epoch.Add(time.Minute), evs[0].At)
	assert.Equal(t, 1, evs[0].Data["list"])
	assert.NotEmpty(t, evs[0].ID)
}

func TestManager_HostPC(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.m.SendHostPCMessage(ctx, "TRIAL", map[string]any{"trial": 1}))
	require.NoError(t, h.m.SetHostPCStatus(ctx, "READY"))
	assert.Equal(t, []string{"TRIAL"}, h.hostPC.messages)
	assert.Equal(t, []string{"READY"}, h.hostPC.statuses)
	assert.Equal(t, []string{api.EventHostMessage}, h.eventTypes(t))

	h.hostPC.err = errors.New("link down")
	assert.ErrorContains(t, h.m.SendHostPCMessage(ctx, "ISI", nil), "link down")
}

func TestManager_NoHostPCIsNoop(t *testing.T) {
	q := eventqueue.New(eventqueue.WithLogger(logging.Discard()))
	m := NewManager(q, nil, WithLogger(logging.Discard()))
	assert.NoError(t, m.SendHostPCMessage(context.Background(), "TRIAL", nil))
	assert.NoError(t, m.SetHostPCStatus(context.Background(), "READY"))
}

func TestManager_ShowWarningReplacesPendingClear(t *testing.T) {
	h := newHarness(t, nil)

	h.m.ShowWarning("first", time.Second)
	h.clock.Advance(500 * time.Millisecond)
	h.m.ShowWarning("second", time.Second)

	h.clock.Advance(500 * time.Millisecond)
	h.tick()
	assert.Equal(t, "second", h.warnings.current, "first clear must not remove the second warning")

	h.clock.Advance(500 * time.Millisecond)
	h.tick()
	assert.Empty(t, h.warnings.current)
}

func TestManager_NotifyFromAnotherGoroutine(t *testing.T) {
	h := newHarness(t, nil)

	done := make(chan struct{})
	go func() {
		h.m.Notify(errors.New("microphone unplugged"))
		h.m.Notify(nil)
		close(done)
	}()
	<-done

	h.tick()
	assert.Equal(t, "microphone unplugged", h.warnings.current)
	assert.Equal(t, []string{api.EventNotification}, h.eventTypes(t))

	h.clock.Advance(NotifyDuration)
	h.tick()
	assert.Empty(t, h.warnings.current)
}
