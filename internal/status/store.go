package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/ptr"
)

// InterruptedMessage is recorded when a persisted status was left running by a previous process
const InterruptedMessage = "Previous sync was interrupted"

// Store guards the single SyncStatus record. Every mutation happens under one
// lock, and readers only ever receive deep copies.
type Store struct {
	mu          sync.Mutex
	current     SyncStatus
	now         func() time.Time
	persistence Persistence
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithClock overrides the timestamp source used by Complete
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithPersistence saves every change of the record through p
func WithPersistence(p Persistence) StoreOption {
	return func(s *Store) {
		s.persistence = p
	}
}

// NewStore creates a Store in the initial state.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore loads the persisted record, if persistence is configured. A record
// that was left running belongs to a process that died mid-sync, so it is
// reset to idle with an error.
func (s *Store) Restore(ctx context.Context) error {
	if s.persistence == nil {
		return nil
	}

	loaded, err := s.persistence.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = loaded.Clone()
	if s.current.Running {
		slog.Warn("Previous sync was interrupted, resetting status")
		s.current.Running = false
		s.current.Error = ptr.To(InterruptedMessage)
		s.save(ctx)
	}

	if s.current.LastSync != nil {
		slog.Info("Loaded sync status", "last_sync", s.current.LastSync.Format(time.RFC3339), "failed", s.current.Error != nil)
	}
	return nil
}

// Snapshot returns a deep copy of the current record.
func (s *Store) Snapshot() SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// UpdateAtomically runs testAndUpdate on the record under the store lock.
// The mutation is kept only when testAndUpdate returns true; otherwise the
// record is left exactly as it was.
func (s *Store) UpdateAtomically(testAndUpdate func(*SyncStatus) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.current.Clone()
	if !testAndUpdate(&candidate) {
		return false
	}
	s.current = candidate
	s.save(context.Background())
	return true
}

// TryBegin marks a sync as running unless one already is. It returns the
// snapshot after the attempt and whether this caller won the transition.
func (s *Store) TryBegin() (SyncStatus, bool) {
	var snapshot SyncStatus
	began := s.UpdateAtomically(func(st *SyncStatus) bool {
		if st.Running {
			snapshot = st.Clone()
			return false
		}
		st.Running = true
		st.Error = nil
		st.Output = nil
		snapshot = st.Clone()
		return true
	})
	return snapshot, began
}

// Complete records the end of the in-flight attempt. errText is nil on success.
func (s *Store) Complete(output string, errText *string) SyncStatus {
	var snapshot SyncStatus
	s.UpdateAtomically(func(st *SyncStatus) bool {
		st.Running = false
		st.LastSync = ptr.To(s.now())
		st.Output = ptr.To(output)
		st.Error = nil
		if errText != nil {
			st.Error = ptr.To(*errText)
		}
		snapshot = st.Clone()
		return true
	})
	return snapshot
}

// save must be called with s.mu held. Persistence is best effort: the
// in-memory record stays authoritative.
func (s *Store) save(ctx context.Context) {
	if s.persistence == nil {
		return
	}
	if err := s.persistence.Save(ctx, s.current); err != nil {
		slog.Warn("Failed to persist sync status", "error", err)
	}
}
