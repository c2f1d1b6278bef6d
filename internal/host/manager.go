// Package host is the process-side facade around the event queue: it owns
// key routing, settings access, event reporting and the quit signal, and the
// Driver that ticks the queue.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kahana-sysadmin/UnityEPL/internal/config"
	"github.com/kahana-sysadmin/UnityEPL/internal/eventqueue"
	"github.com/kahana-sysadmin/UnityEPL/internal/inbox"
	"github.com/kahana-sysadmin/UnityEPL/internal/persistence"
	"github.com/kahana-sysadmin/UnityEPL/pkg/api"
)

const (
	// DefaultQuitKey ends the run when pressed.
	DefaultQuitKey = "escape"

	// NotifyDuration is how long an error notification stays on screen.
	NotifyDuration = 5 * time.Second
)

// ErrInvalidBudget is returned by Budget when eventsPerFrame is not positive.
var ErrInvalidBudget = errors.New("eventsPerFrame must be positive")

// HostPC is the link to a controlling host computer.
type HostPC interface {
	SendMessage(ctx context.Context, msgType string, data map[string]any) error
	SetStatus(ctx context.Context, status string) error
}

// WarningDisplay shows a single transient warning.
type WarningDisplay interface {
	ShowWarning(msg string)
	ClearWarning()
}

// Manager is shared by the experiment, the input sources and the driver.
// Methods documented as safe from any goroutine deposit work through the
// queue's ingress buffer; all others must run on the scheduler goroutine.
type Manager struct {
	queue    *eventqueue.Queue
	settings *config.Settings
	events   persistence.EventStore
	keys     *inbox.Inbox[api.KeyEvent]
	logger   *slog.Logger
	hostPC   HostPC
	warnings WarningDisplay
	quitKey  string

	// identity is written on the scheduler goroutine and read by Key.
	idMu     sync.RWMutex
	identity api.RunIdentity

	warnGen uint64

	quitOnce sync.Once
	quit     chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

func WithEventStore(s persistence.EventStore) Option {
	return func(m *Manager) {
		if s != nil {
			m.events = s
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithHostPC(h HostPC) Option {
	return func(m *Manager) { m.hostPC = h }
}

func WithWarningDisplay(w WarningDisplay) Option {
	return func(m *Manager) { m.warnings = w }
}

// WithQuitKey overrides DefaultQuitKey. An empty key disables quitting by key.
func WithQuitKey(k string) Option {
	return func(m *Manager) { m.quitKey = strings.ToLower(k) }
}

// NewManager wires a manager around q. Settings may be nil for an empty
// configuration.
func NewManager(q *eventqueue.Queue, settings *config.Settings, opts ...Option) *Manager {
	if settings == nil {
		settings = config.NewSettings(nil)
	}
	m := &Manager{
		queue:    q,
		settings: settings,
		events:   persistence.NoopEventStore{},
		logger:   slog.Default(),
		quitKey:  DefaultQuitKey,
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.keys = inbox.New[api.KeyEvent](q)
	return m
}

func (m *Manager) Queue() *eventqueue.Queue { return m.queue }

func (m *Manager) Settings() *config.Settings { return m.settings }

func (m *Manager) Logger() *slog.Logger { return m.logger }

// SetIdentity sets the run every reported event is filed under.
func (m *Manager) SetIdentity(id api.RunIdentity) {
	m.idMu.Lock()
	m.identity = id
	m.idMu.Unlock()
}

func (m *Manager) Identity() api.RunIdentity {
	m.idMu.RLock()
	defer m.idMu.RUnlock()
	return m.identity
}

// Budget returns the per-tick item budget from the eventsPerFrame setting,
// defaulting to eventqueue.DefaultBudget.
func (m *Manager) Budget() (int, error) {
	n, err := m.settings.IntOr("eventsPerFrame", eventqueue.DefaultBudget)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidBudget, n)
	}
	return n, nil
}

// Do runs it on the scheduler goroutine at the next tick. Safe from any
// goroutine.
func (m *Manager) Do(it eventqueue.Item) {
	m.queue.Post(it)
}

// DoIn runs it no earlier than delay after the next tick. Safe from any
// goroutine.
func (m *Manager) DoIn(it eventqueue.Item, delay time.Duration) {
	m.queue.Post(eventqueue.Action("schedule "+it.Name, func() {
		m.queue.EnqueueAfter(it, delay)
	}))
}

// DoRepeating runs it every interval until the returned handle is cancelled.
func (m *Manager) DoRepeating(it eventqueue.Item, interval time.Duration) (*eventqueue.Repeating, error) {
	return m.queue.EnqueueRepeating(it, interval)
}

// RegisterKeyHandler arms h for the next key event. Handlers are single-shot;
// a handler that wants further keys registers itself again. Safe from any
// goroutine.
func (m *Manager) RegisterKeyHandler(name string, h inbox.Handler[api.KeyEvent]) {
	m.keys.Register(name, h)
}

// ClearKeyHandlers drops every armed key handler.
func (m *Manager) ClearKeyHandlers() {
	m.keys.Clear()
}

// Key routes one key event. Pressing the quit key ends the run; any other
// event is logged and handed to every armed handler. Safe from any goroutine.
// It returns the number of handlers the event was delivered to.
func (m *Manager) Key(key string, down bool) int {
	ev := api.KeyEvent{Key: strings.ToLower(key), Down: down}
	if down && m.quitKey != "" && ev.Key == m.quitKey {
		m.Quit()
		return 0
	}
	m.Do(eventqueue.Action("report key", func() {
		m.reportAsync(context.Background(), api.EventKey, map[string]any{"key": ev.Key, "down": ev.Down})
	}))
	return m.keys.Deliver(ev)
}

// PendingKeyHandlers returns the number of armed key handlers.
func (m *Manager) PendingKeyHandlers() int {
	return m.keys.Pending()
}

// ReportEvent appends one record to the session event log.
func (m *Manager) ReportEvent(ctx context.Context, eventType string, data map[string]any) error {
	ev := api.Event{
		Identity: m.Identity(),
		At:       m.queue.Now(),
		Type:     eventType,
		Data:     data,
	}
	if err := m.events.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("report %q: %w", eventType, err)
	}
	return nil
}

// reportAsync reports an event whose failure only needs logging.
func (m *Manager) reportAsync(ctx context.Context, eventType string, data map[string]any) {
	if err := m.ReportEvent(ctx, eventType, data); err != nil {
		m.logger.WarnContext(ctx, "report_failed", slog.String("type", eventType), slog.Any("error", err))
	}
}

// SendHostPCMessage forwards a message to the host computer, if one is
// connected, and records it in the event log.
func (m *Manager) SendHostPCMessage(ctx context.Context, msgType string, data map[string]any) error {
	if m.hostPC == nil {
		return nil
	}
	if err := m.hostPC.SendMessage(ctx, msgType, data); err != nil {
		return fmt.Errorf("host pc message %s: %w", msgType, err)
	}
	payload := map[string]any{"message": msgType}
	if len(data) > 0 {
		payload["data"] = data
	}
	m.reportAsync(ctx, api.EventHostMessage, payload)
	return nil
}

func (m *Manager) SetHostPCStatus(ctx context.Context, status string) error {
	m.logger.InfoContext(ctx, "host_pc_status", slog.String("status", status))
	if m.hostPC == nil {
		return nil
	}
	return m.hostPC.SetStatus(ctx, status)
}

// ShowWarning displays msg and clears it after d. A later warning replaces
// the current one and its pending clear.
func (m *Manager) ShowWarning(msg string, d time.Duration) {
	if m.warnings == nil {
		m.logger.Warn("warning", slog.String("message", msg))
		return
	}
	m.warnGen++
	gen := m.warnGen
	m.warnings.ShowWarning(msg)
	m.queue.EnqueueAfter(eventqueue.Action("clear warning", func() {
		if m.warnGen == gen {
			m.warnings.ClearWarning()
		}
	}), d)
}

// Notify surfaces err to the operator on the scheduler goroutine. Safe from
// any goroutine.
func (m *Manager) Notify(err error) {
	if err == nil {
		return
	}
	m.Do(eventqueue.NewItem("notify", func(ctx context.Context) error {
		m.logger.ErrorContext(ctx, "notification", slog.Any("error", err))
		m.reportAsync(ctx, api.EventNotification, map[string]any{"error": err.Error()})
		m.ShowWarning(err.Error(), NotifyDuration)
		return nil
	}))
}

// Quit signals the driver to stop. Safe from any goroutine and idempotent.
func (m *Manager) Quit() {
	m.quitOnce.Do(func() {
		m.logger.Info("quitting")
		close(m.quit)
	})
}

// Done is closed once Quit has been called.
func (m *Manager) Done() <-chan struct{} {
	return m.quit
}

// Quitting reports whether Quit has been called.
func (m *Manager) Quitting() bool {
	select {
	case <-m.quit:
		return true
	default:
		return false
	}
}
