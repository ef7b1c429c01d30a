// internal/domain/schedule/schedule.go
package schedule

import (
	"context"
	"time"
)

// Trigger is a replaceable periodic timer for the pipeline entry point.
type Trigger interface {
	// Install replaces any existing trigger with one firing fn every interval.
	Install(interval time.Duration, fn func()) error
	// Remove deletes the trigger; a running invocation is not interrupted.
	Remove()
	Installed() bool
}

// RunState holds the start time of the current processing window. It is set
// on start and cleared on stop or when the window expires.
type RunState interface {
	StartedAt(ctx context.Context) (time.Time, bool, error)
	MarkStarted(ctx context.Context, at time.Time) error
	Clear(ctx context.Context) error
}
