package app

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/joplin-bridge/internal/config"
	joplinmocks "github.com/stacklok/joplin-bridge/internal/joplin/mocks"
	"github.com/stacklok/joplin-bridge/internal/status"
	"github.com/stacklok/joplin-bridge/internal/sync/coordinator"
)

// mockCoordinator implements the coordinator.Coordinator interface for testing
type mockCoordinator struct {
	mu          sync.Mutex
	startCalled bool
	stopCalled  bool
	stopErr     error
}

func (*mockCoordinator) TriggerSync(_ context.Context, _ bool) *coordinator.Outcome {
	return &coordinator.Outcome{Kind: coordinator.OutcomeAccepted, Status: status.SyncStatus{Running: true}}
}

func (*mockCoordinator) Status() status.SyncStatus {
	return status.SyncStatus{}
}

func (m *mockCoordinator) Start(ctx context.Context) error {
	m.mu.Lock()
	m.startCalled = true
	m.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (m *mockCoordinator) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalled = true
	return m.stopErr
}

func (m *mockCoordinator) wasStartCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCalled
}

func (m *mockCoordinator) wasStopCalled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalled
}

// createTestApp creates a BridgeApp with mocked components for testing.
// It constructs the BridgeApp directly to keep process spawning out of the lifecycle tests.
func createTestApp(t *testing.T, ctrl *gomock.Controller, addr string) *BridgeApp {
	t.Helper()

	client := joplinmocks.NewMockClient(ctrl)
	coord := &mockCoordinator{}
	cfg := config.Default()

	ctx := context.Background()
	appCtx, cancel := context.WithCancel(ctx)

	appCfg := &bridgeAppConfig{
		config:      cfg,
		address:     addr,
		readTimeout: 10 * time.Second,
		idleTimeout: 60 * time.Second,
	}

	server, err := buildHTTPServer(ctx, appCfg, coord, client)
	require.NoError(t, err)

	return &BridgeApp{
		config: cfg,
		components: &AppComponents{
			Client:          client,
			SyncCoordinator: coord,
		},
		httpServer: server,
		ctx:        appCtx,
		cancelFunc: cancel,
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func TestBridgeApp_StartWithListener(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	addr := freeAddr(t)
	app := createTestApp(t, ctrl, addr)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	mockCoord := app.components.SyncCoordinator.(*mockCoordinator)
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, mockCoord.wasStartCalled, time.Second, 10*time.Millisecond, "sync coordinator should be started")

	resp, err := http.Post("http://"+addr+"/sync", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, app.Stop(5*time.Second))

	select {
	case startErr := <-errChan:
		require.NoError(t, startErr)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after Stop()")
	}
	assert.True(t, mockCoord.wasStopCalled())
}

func TestBridgeApp_StartAddressInUse(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	ctrl := gomock.NewController(t)
	app := createTestApp(t, ctrl, listener.Addr().String())

	err = app.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP server failed")
	require.NoError(t, app.Stop(time.Second))
}

func TestBridgeApp_Stop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		start   bool
		stopErr error
		wantErr bool
	}{
		{name: "graceful shutdown after start", start: true},
		{name: "stop without starting first"},
		{name: "coordinator still draining", start: true, stopErr: context.DeadlineExceeded, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			app := createTestApp(t, ctrl, freeAddr(t))
			mockCoord := app.components.SyncCoordinator.(*mockCoordinator)
			mockCoord.stopErr = tt.stopErr

			closed := 0
			app.closers = []func() error{func() error { closed++; return nil }}

			if tt.start {
				go func() { _ = app.Start() }()
				require.Eventually(t, mockCoord.wasStartCalled, time.Second, 10*time.Millisecond)
			}

			err := app.Stop(5 * time.Second)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			assert.True(t, mockCoord.wasStopCalled(), "sync coordinator Stop should be called")
			assert.Equal(t, 1, closed)
			assert.ErrorIs(t, app.ctx.Err(), context.Canceled)
		})
	}
}

func TestBridgeApp_StopIdempotent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	app := createTestApp(t, ctrl, freeAddr(t))

	closed := 0
	app.closers = []func() error{func() error { closed++; return nil }}

	require.NoError(t, app.Stop(time.Second))
	require.NoError(t, app.Stop(time.Second))
	assert.Equal(t, 1, closed, "resources are released once")
}

func TestBridgeApp_StopWithNilCancelFunc(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	app := createTestApp(t, ctrl, freeAddr(t))
	app.cancelFunc = nil

	require.NoError(t, app.Stop(5*time.Second))
}

func TestBridgeApp_Getters(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	app := createTestApp(t, ctrl, "127.0.0.1:0")

	require.NotNil(t, app.GetConfig())
	assert.Equal(t, config.DefaultAddress, app.GetConfig().Server.Address)
	assert.Equal(t, "127.0.0.1:0", app.GetHTTPServer().Addr)
	assert.NotNil(t, app.GetComponents().SyncCoordinator)
}
