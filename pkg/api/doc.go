// Package api contains the public building blocks shared by the scheduler,
// the state machine runner, the snapshot stores and experiments.
//
// # State
//
// State records where a run currently is: one cursor per machine, a
// completion flag, typed extension fields and the run identity
// (participant + session). It is owned by the scheduler goroutine and is
// passed explicitly to every step; nothing in this module keeps a global
// "current state".
//
// # Observability
//
// Observer receives run and step lifecycle callbacks from the runner.
// LoggingObserver writes them through log/slog, BasicMetrics counts them,
// and NewCompositeObserver fans out to several observers.
//
// # Events
//
// Event is the record type of the append-only session log that experiments
// write through the host's ReportEvent.
package api
