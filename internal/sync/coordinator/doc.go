// Package coordinator serializes joplin sync attempts.
//
// At most one sync is in flight at any time. The transition from idle to
// running goes through status.Store.TryBegin, so concurrent triggers cannot
// both win. A trigger either:
//
//   - loses the transition and returns a Conflict outcome without touching the status,
//   - runs the sync inline and returns a Completed outcome with the command result, or
//   - schedules the sync on the coordinator's worker group and returns Accepted.
//
// Every accepted trigger completes the status exactly once, including when the
// executor panics. Syncs run on a context detached from the triggering request,
// so a client that disconnects does not abort a sync it already started.
//
// # Periodic sync
//
// When an interval is configured, Start also triggers a foreground sync on a
// jittered ticker. A tick that finds a sync already running is skipped; ticks
// are never queued.
//
// # Shutdown
//
// Stop ends the periodic loop and waits for an in-flight background sync,
// bounded by the context it is given.
package coordinator
