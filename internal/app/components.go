package app

import (
	"github.com/stacklok/joplin-bridge/internal/joplin"
	"github.com/stacklok/joplin-bridge/internal/runner"
	"github.com/stacklok/joplin-bridge/internal/status"
	"github.com/stacklok/joplin-bridge/internal/sync/coordinator"
	"github.com/stacklok/joplin-bridge/internal/telemetry"
)

// AppComponents groups all application components
//
//nolint:revive // This name is fine
type AppComponents struct {
	// Executor runs every joplin CLI invocation
	Executor runner.Executor

	// Client reads token, config, status and version through the executor
	Client joplin.Client

	// StatusStore holds the single sync status record
	StatusStore *status.Store

	// SyncCoordinator serializes syncs and runs the optional periodic loop
	SyncCoordinator coordinator.Coordinator

	// Telemetry owns the tracer and meter providers (optional)
	Telemetry *telemetry.Telemetry
}
