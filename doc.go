// Package epl runs behavioral experiments as resumable hierarchical state
// machines on a cooperative single-threaded scheduler.
//
// # Core Concepts
//
// The programming model is small:
//
//  1. Queue
//  2. Manager
//  3. Machine and Step
//  4. Continuation
//  5. SnapshotStore
//  6. LocalRunner
//
// # Queue
//
// Every experiment action runs as an Item on one scheduler goroutine. Items
// are ready, delayed or repeating. Each tick drains the cross-thread ingress
// buffer and then runs at most a budget of due items, so a long backlog never
// blocks a frame. A failing or panicking item is logged and isolated; the
// items behind it still run.
//
// # Manager
//
// The Manager is the host's front door. Do and DoIn are safe from any
// goroutine. Key events from keyboards, button boxes or the HTTP input
// endpoint are routed to single-shot key handlers that run on the scheduler
// goroutine. The quit key ends the run.
//
// # Machines and steps
//
// An experiment declares a closed set of machines. Each machine is an ordered
// list of steps plus optional Repeat and Done predicates; a step returns a
// Continuation:
//
//	Next()          advance the cursor
//	Goto(i)         jump within the machine
//	Again()         run the same step again
//	Enter(child)    run a child machine to completion, then advance
//	Suspend()       wait for an external Resume (a key, a video ending)
//	Complete()      end the run
//
// Any continuation may be delayed with After(d).
//
// # Persistence
//
// The run State (one cursor per machine plus experiment fields) is saved
// after every transition. Launching the same participant and session again
// resumes from the saved cursors; a completed session does not run again.
// Snapshots can live in files, SQLite, PostgreSQL, Redis or MongoDB.
//
// # LocalRunner
//
// LocalRunner wires settings, storage, the queue, the manager and the
// configured experiment for one lab process:
//
//	runner, err := epl.NewLocalRunner(ctx, cfg, afero.NewOsFs(), epl.Devices{}, logger)
//	if err != nil {
//		return err
//	}
//	defer runner.Close()
//	return runner.Run(ctx)
//
// The epl command wraps this with flags, a stdin key reader and an optional
// HTTP key endpoint.
package epl
