package status

import (
	"time"

	"k8s.io/utils/ptr"
)

// SyncStatus is the process-wide record of the last sync attempt.
// The zero value is the initial state: idle, never synced.
type SyncStatus struct {
	// Running is true only while exactly one sync execution is in flight
	Running bool `json:"running"`

	// LastSync is set when an attempt completes, successfully or not
	LastSync *time.Time `json:"last_sync"`

	// Error is cleared when an attempt begins and set only on failure
	Error *string `json:"error"`

	// Output is the trimmed stdout of the last completed attempt
	Output *string `json:"output"`
}

// Clone returns a deep copy, so the caller can't alias the store's pointers.
func (s SyncStatus) Clone() SyncStatus {
	out := SyncStatus{Running: s.Running}
	if s.LastSync != nil {
		out.LastSync = ptr.To(*s.LastSync)
	}
	if s.Error != nil {
		out.Error = ptr.To(*s.Error)
	}
	if s.Output != nil {
		out.Output = ptr.To(*s.Output)
	}
	return out
}
