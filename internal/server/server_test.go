package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/host"
	"github.com/kahana-sysadmin/UnityEPL/internal/logging"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

type fakeSource struct {
	state   *api.State
	stepErr error
}

func (f *fakeSource) State() *api.State     { return f.state }
func (f *fakeSource) Status() api.RunStatus { return api.StatusSuspended }
func (f *fakeSource) StepErr() error        { return f.stepErr }

func newManager() (*host.Manager, *eventqueue.Queue) {
	q := eventqueue.New(eventqueue.WithLogger(logging.Discard()))
	return host.NewManager(q, nil, host.WithLogger(logging.Discard())), q
}

// tickInBackground stands in for the driver until the test ends.
func tickInBackground(t *testing.T, q *eventqueue.Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			q.Tick(ctx, 5)
			time.Sleep(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestHealth(t *testing.T) {
	m, _ := newManager()
	srv := New(m, logging.Discard())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	var body healthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.Quitting)
}

func TestKey_DeliversToHandlers(t *testing.T) {
	m, q := newManager()
	srv := New(m, logging.Discard())

	var got api.KeyEvent
	m.RegisterKeyHandler("prompt", func(_ context.Context, ev api.KeyEvent) error {
		got = ev
		return nil
	})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/Space", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body keyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Handlers)
	assert.True(t, body.Down)

	q.Tick(context.Background(), 10)
	assert.Equal(t, api.KeyEvent{Key: "space", Down: true}, got)
	assert.Equal(t, 0, m.PendingKeyHandlers())
}

func TestKey_Release(t *testing.T) {
	m, _ := newManager()
	srv := New(m, logging.Discard())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/escape?down=false", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, m.Quitting(), "releasing the quit key does not quit")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/escape", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, m.Quitting())
}

func TestKey_BadDownParam(t *testing.T) {
	m, _ := newManager()
	srv := New(m, logging.Discard())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/keys/y?down=maybe", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)
}

func TestState(t *testing.T) {
	m, q := newManager()
	st := api.NewState(api.RunIdentity{Participant: "LTP001", Session: 3})
	st.SetCursor(0, 6)
	st.SetCursor(2, 4)
	st.SetInt("listIndex", 2)
	srv := New(m, logging.Discard(), WithStateSource(&fakeSource{state: st}))
	tickInBackground(t, q)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view StateView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "LTP001", view.Participant)
	assert.Equal(t, 3, view.Session)
	assert.Equal(t, api.StatusSuspended, view.Status)
	assert.Equal(t, map[api.MachineID]int{0: 6, 2: 4}, view.Cursors)
	assert.Equal(t, 2, view.Ints["listIndex"])
	assert.Empty(t, view.StepError)
}

func TestState_ReportsStalledStep(t *testing.T) {
	m, q := newManager()
	src := &fakeSource{
		state:   api.NewState(api.RunIdentity{Participant: "LTP001", Session: 1}),
		stepErr: errors.New("step run[0] boom: item panicked: bad"),
	}
	srv := New(m, logging.Discard(), WithStateSource(src))
	tickInBackground(t, q)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view StateView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Equal(t, "step run[0] boom: item panicked: bad", view.StepError)
}

func TestState_NoSource(t *testing.T) {
	m, _ := newManager()
	srv := New(m, logging.Discard())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestState_SchedulerStalled(t *testing.T) {
	m, _ := newManager()
	srv := New(m, logging.Discard(),
		WithStateSource(&fakeSource{state: api.NewState(api.RunIdentity{Participant: "p"})}),
		WithProbeTimeout(20*time.Millisecond))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
