package sim

import "errors"

var (
	// ErrHalted means the instance hit a non-recoverable desync and no
	// longer accepts ticks or inputs; resynchronize from an authoritative
	// snapshot and build a new instance.
	ErrHalted = errors.New("sim: instance halted, resync required")
	// ErrAlreadyStarted rejects setup calls after Start.
	ErrAlreadyStarted = errors.New("sim: already started")
	// ErrNotStarted rejects stepping before Start.
	ErrNotStarted = errors.New("sim: not started")
	// ErrNotRetained means the requested tick is outside the retained
	// frame window.
	ErrNotRetained = errors.New("sim: tick not retained")
	// ErrStalePrediction rejects a predicted input for a tick the
	// simulation has already consumed. Only a confirmation can correct
	// the past; overwriting a consumed prediction would desynchronize the
	// instance without ever scheduling a rollback.
	ErrStalePrediction = errors.New("sim: prediction for already-simulated tick")
)
