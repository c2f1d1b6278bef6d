package api

import "time"

// Event types reported by the host and experiments. Experiments may report
// any other type string; these are the ones the core itself produces.
const (
	EventSessionStart     = "session start"
	EventExperimentResume = "experiment resume"
	EventExperimentEnd    = "experiment end"
	EventKey              = "key"
	EventHostMessage      = "host pc message"
	EventNotification     = "notification"
)

// Event is one append-only record of the session log. Keep Data small; it is
// meant for annotation and auditing, not bulk payloads.
type Event struct {
	ID       string
	Identity RunIdentity
	At       time.Time
	Type     string
	Data     map[string]any
}
