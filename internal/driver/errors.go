package driver

import "fmt"

// Stage names the phase of the run an error belongs to. The CLI surfaces
// it so a failed run reports what was in flight.
type Stage string

const (
	StageOptions     Stage = "option validation"
	StageConfig      Stage = "configuration load"
	StageProjectLoad Stage = "project load"
	StageOptimize    Stage = "optimization"
	StageRename      Stage = "project rename"
)

// Error is a stage-tagged failure. The driver never recovers from one;
// every Error propagates to the process boundary.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
