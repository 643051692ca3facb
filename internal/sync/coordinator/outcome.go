package coordinator

import (
	"errors"

	"github.com/stacklok/joplin-bridge/internal/runner"
	"github.com/stacklok/joplin-bridge/internal/status"
)

// ErrSyncInProgress is reported for triggers that lost the race to an in-flight sync
var ErrSyncInProgress = errors.New("sync already in progress")

// OutcomeKind tells how a trigger was handled
type OutcomeKind string

const (
	// OutcomeAccepted means a background sync was scheduled
	OutcomeAccepted OutcomeKind = "accepted"

	// OutcomeCompleted means a foreground sync ran to completion (successfully or not)
	OutcomeCompleted OutcomeKind = "completed"

	// OutcomeConflict means another sync was already running and nothing was started
	OutcomeConflict OutcomeKind = "conflict"
)

// Outcome is the result of a single TriggerSync call
type Outcome struct {
	Kind OutcomeKind

	// Status is the snapshot taken at acceptance (Accepted), after completion
	// (Completed) or at rejection (Conflict)
	Status status.SyncStatus

	// Result is set only for Completed outcomes
	Result *runner.Result
}

// Success is true for accepted triggers and for completed syncs whose command succeeded.
func (o *Outcome) Success() bool {
	switch o.Kind {
	case OutcomeAccepted:
		return true
	case OutcomeCompleted:
		return o.Result != nil && o.Result.Success
	default:
		return false
	}
}

// Output returns the trimmed stdout of a completed sync
func (o *Outcome) Output() string {
	if o.Result == nil {
		return ""
	}
	return o.Result.Stdout
}

// ErrorText returns the failure text of a completed sync, or nil when it succeeded.
func (o *Outcome) ErrorText() *string {
	if o.Result == nil || o.Result.Success {
		return nil
	}
	text := o.Result.ErrorText()
	return &text
}

// Err returns ErrSyncInProgress for conflicts and nil otherwise
func (o *Outcome) Err() error {
	if o.Kind == OutcomeConflict {
		return ErrSyncInProgress
	}
	return nil
}
