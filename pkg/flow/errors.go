package flow

import "errors"

var (
	// ErrSuspended is returned by WaitFor when no matching event is
	// available. Bodies must propagate it unchanged; the runtime persists
	// the wait condition and hands control back to the worker.
	ErrSuspended = errors.New("execution suspended")

	// ErrBodyNotRegistered means no executable body is registered for a
	// definition's (name, version). A definition error, never retried.
	ErrBodyNotRegistered = errors.New("workflow body not registered")

	// ErrNondeterministic means a replayed body diverged from its recorded
	// history: a call site asked for a different kind or name than what was
	// recorded at its position.
	ErrNondeterministic = errors.New("workflow body diverged from recorded history")
)
