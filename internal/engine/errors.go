package engine

import "errors"

var (
	// ErrConcurrentCycle rejects a trigger that arrives while a cycle is
	// already in flight. The trigger is not queued.
	ErrConcurrentCycle = errors.New("engine: cycle already running")

	// ErrSourceUnavailable marks a transient sample-fetch failure. The
	// affected metric is degraded for the cycle, never fatal.
	ErrSourceUnavailable = errors.New("engine: source unavailable")

	// ErrInvalidDefinition rejects a malformed metric definition at
	// configuration time, before any cycle runs.
	ErrInvalidDefinition = errors.New("engine: invalid metric definition")

	// ErrUnknownMetric is returned by sources asked for a metric they were
	// never configured with.
	ErrUnknownMetric = errors.New("engine: unknown metric")
)
