package v0_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"k8s.io/utils/ptr"

	v0 "github.com/stacklok/joplin-bridge/internal/api/v0"
	"github.com/stacklok/joplin-bridge/internal/joplin"
	joplinmocks "github.com/stacklok/joplin-bridge/internal/joplin/mocks"
	"github.com/stacklok/joplin-bridge/internal/runner"
	runnermocks "github.com/stacklok/joplin-bridge/internal/runner/mocks"
	"github.com/stacklok/joplin-bridge/internal/status"
	"github.com/stacklok/joplin-bridge/internal/sync/coordinator"
	coordmocks "github.com/stacklok/joplin-bridge/internal/sync/coordinator/mocks"
)

var lastSync = time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

func doRequest(t *testing.T, h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Host = "192.168.1.20:41186"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func newRouter(t *testing.T) (http.Handler, *coordmocks.MockCoordinator, *joplinmocks.MockClient) {
	t.Helper()

	ctrl := gomock.NewController(t)
	coord := coordmocks.NewMockCoordinator(ctrl)
	client := joplinmocks.NewMockClient(ctrl)
	return v0.Router(v0.NewRoutes(coord, client)), coord, client
}

func TestHealth(t *testing.T) {
	t.Parallel()

	router, coord, _ := newRouter(t)
	coord.EXPECT().Status().Return(status.SyncStatus{Running: true})

	rr := doRequest(t, router, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"healthy","joplin_api_available":true,"sync_running":true,"addon_version":"1.0.0"}`, rr.Body.String())
}

func TestToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		token    string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "token",
			token:    "abc123",
			wantCode: http.StatusOK,
			wantBody: `{"success":true,"token":"abc123","joplin_data_api_url":"http://192.168.1.20:41185"}`,
		},
		{
			name:     "parse error",
			err:      joplin.ErrParse,
			wantCode: http.StatusInternalServerError,
			wantBody: `{"success":false,"error":"Could not parse token"}`,
		},
		{
			name:     "command error",
			err:      &joplin.CommandError{Message: "Failed to get token"},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"success":false,"error":"Failed to get token"}`,
		},
		{
			name:     "command stderr",
			err:      &joplin.CommandError{Message: "Security error: invalid command"},
			wantCode: http.StatusInternalServerError,
			wantBody: `{"success":false,"error":"Security error: invalid command"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, _, client := newRouter(t)
			client.EXPECT().Token(gomock.Any()).Return(tt.token, tt.err)

			rr := doRequest(t, router, http.MethodGet, "/token", "", "")
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
		})
	}
}

func TestToken_EndToEndParse(t *testing.T) {
	t.Parallel()

	for output, want := range map[string]string{
		"api.token = abc123": `{"success":true,"token":"abc123","joplin_data_api_url":"http://192.168.1.20:41185"}`,
		"abc123":             `{"success":false,"error":"Could not parse token"}`,
	} {
		ctrl := gomock.NewController(t)
		exec := runnermocks.NewMockExecutor(ctrl)
		exec.EXPECT().Execute(gomock.Any(), gomock.Any()).Return(&runner.Result{Success: true, Stdout: output})

		router := v0.Router(v0.NewRoutes(coordmocks.NewMockCoordinator(ctrl), joplin.NewClient(exec)))
		rr := doRequest(t, router, http.MethodGet, "/token", "", "")
		assert.JSONEq(t, want, rr.Body.String(), output)
	}
}

func TestDataAPIURL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := joplinmocks.NewMockClient(ctrl)
	client.EXPECT().Token(gomock.Any()).Return("t", nil).Times(3)
	router := v0.Router(v0.NewRoutes(coordmocks.NewMockCoordinator(ctrl), client, v0.WithDataAPIPort(5000)))

	for host, want := range map[string]string{
		"localhost:41186":   "http://localhost:5000",
		"[::1]:41186":       "http://[::1]:5000",
		"homeassistant.lan": "http://homeassistant.lan:5000",
	} {
		req := httptest.NewRequest(http.MethodGet, "/token", nil)
		req.Host = host
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		var body v0.TokenResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, want, body.JoplinDataAPIURL, host)
	}
}

func TestTriggerSync_BodyParsing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		contentType    string
		body           string
		wantBackground bool
		wantCode       int
	}{
		{name: "no body", wantBackground: true, wantCode: http.StatusOK},
		{name: "empty json body", contentType: "application/json", wantBackground: true, wantCode: http.StatusOK},
		{name: "empty object", contentType: "application/json", body: `{}`, wantBackground: true, wantCode: http.StatusOK},
		{name: "explicit true", contentType: "application/json", body: `{"background":true}`, wantBackground: true, wantCode: http.StatusOK},
		{name: "explicit false", contentType: "application/json; charset=utf-8", body: `{"background":false}`, wantCode: http.StatusOK},
		{name: "null", contentType: "application/json", body: `{"background":null}`, wantBackground: true, wantCode: http.StatusOK},
		{name: "zero", contentType: "application/json", body: `{"background":0}`, wantCode: http.StatusOK},
		{name: "non-empty string", contentType: "application/json", body: `{"background":"no"}`, wantBackground: true, wantCode: http.StatusOK},
		{name: "non json content type ignores body", contentType: "text/plain", body: `{"background":false}`, wantBackground: true, wantCode: http.StatusOK},
		{name: "malformed json", contentType: "application/json", body: `{"background":`, wantCode: http.StatusBadRequest},
		{name: "not an object", contentType: "application/json", body: `[false]`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, coord, _ := newRouter(t)
			if tt.wantCode == http.StatusOK {
				kind := coordinator.OutcomeAccepted
				if !tt.wantBackground {
					kind = coordinator.OutcomeCompleted
				}
				coord.EXPECT().TriggerSync(gomock.Any(), tt.wantBackground).Return(&coordinator.Outcome{
					Kind:   kind,
					Result: &runner.Result{Success: true},
				})
			}

			rr := doRequest(t, router, http.MethodPost, "/sync", tt.contentType, tt.body)
			assert.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			if tt.wantCode == http.StatusBadRequest {
				assert.JSONEq(t, `{"success":false,"error":"Invalid JSON body"}`, rr.Body.String())
			}
		})
	}
}

func TestTriggerSync_Responses(t *testing.T) {
	t.Parallel()

	running := status.SyncStatus{Running: true}
	failed := status.SyncStatus{LastSync: &lastSync, Error: ptr.To("boom"), Output: ptr.To("partial")}

	tests := []struct {
		name       string
		background bool
		outcome    *coordinator.Outcome
		wantCode   int
		wantBody   string
	}{
		{
			name:       "background accepted",
			background: true,
			outcome:    &coordinator.Outcome{Kind: coordinator.OutcomeAccepted, Status: running},
			wantCode:   http.StatusOK,
			wantBody: `{"success":true,"message":"Background sync started",
				"status":{"running":true,"last_sync":null,"error":null,"output":null}}`,
		},
		{
			name:       "conflict",
			background: true,
			outcome:    &coordinator.Outcome{Kind: coordinator.OutcomeConflict, Status: running},
			wantCode:   http.StatusConflict,
			wantBody: `{"success":false,"message":"Sync already in progress",
				"status":{"running":true,"last_sync":null,"error":null,"output":null}}`,
		},
		{
			name: "foreground failure",
			outcome: &coordinator.Outcome{
				Kind:   coordinator.OutcomeCompleted,
				Status: failed,
				Result: &runner.Result{Stdout: "partial", Stderr: "boom", ExitCode: 1},
			},
			wantCode: http.StatusOK,
			wantBody: `{"success":false,"message":"Sync completed","output":"partial","error":"boom",
				"status":{"running":false,"last_sync":"2024-03-01T08:30:00Z","error":"boom","output":"partial"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			router, coord, _ := newRouter(t)
			coord.EXPECT().TriggerSync(gomock.Any(), tt.background).Return(tt.outcome)

			body := `{"background":false}`
			if tt.background {
				body = `{"background":true}`
			}
			rr := doRequest(t, router, http.MethodPost, "/sync", "application/json", body)
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
		})
	}
}

// TestTriggerSync_RealCoordinator drives the handlers with the real
// coordinator and a scripted executor.
func TestTriggerSync_RealCoordinator(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	exec := runnermocks.NewMockExecutor(ctrl)
	client := joplinmocks.NewMockClient(ctrl)

	release := make(chan struct{})
	started := make(chan struct{})
	exec.EXPECT().Execute(gomock.Any(), runner.Spec{Name: "sync", Timeout: coordinator.DefaultSyncTimeout}).
		DoAndReturn(func(context.Context, runner.Spec) *runner.Result {
			close(started)
			<-release
			return &runner.Result{Success: true, Stdout: "OK"}
		})

	coord := coordinator.New(exec, status.NewStore())
	router := v0.Router(v0.NewRoutes(coord, client))

	rr := doRequest(t, router, http.MethodPost, "/sync", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	<-started

	rr = doRequest(t, router, http.MethodPost, "/sync", "application/json", `{"background":false}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	var conflict v0.SyncStartedResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conflict))
	assert.True(t, conflict.Status.Running)

	close(release)
	require.Eventually(t, func() bool { return !coord.Status().Running }, 5*time.Second, 10*time.Millisecond)

	// Two reads with no trigger in between are byte-identical.
	first := doRequest(t, router, http.MethodGet, "/sync/status", "", "")
	second := doRequest(t, router, http.MethodGet, "/sync/status", "", "")
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())

	var st v0.SyncStatusResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &st))
	assert.True(t, st.Success)
	assert.False(t, st.Status.Running)
	assert.Equal(t, "OK", *st.Status.Output)
	assert.Nil(t, st.Status.Error)
	assert.NotNil(t, st.Status.LastSync)

	require.NoError(t, coord.Stop(context.Background()))
}

func TestInfo(t *testing.T) {
	t.Parallel()

	t.Run("all collaborators answer", func(t *testing.T) {
		t.Parallel()

		router, coord, client := newRouter(t)
		coord.EXPECT().Status().Return(status.SyncStatus{LastSync: &lastSync, Output: ptr.To("OK")})
		client.EXPECT().Status(gomock.Any()).Return("Folder: 3 notes", nil)
		client.EXPECT().ConfigValue(gomock.Any(), "sync.target").Return("7", nil)
		client.EXPECT().Version(gomock.Any()).Return(semver.MustParse("2.14.2"), nil)

		rr := doRequest(t, router, http.MethodGet, "/info", "", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{
			"success": true,
			"addon_version": "1.0.0",
			"joplin_version": "2.14.2",
			"status": "Folder: 3 notes",
			"sync_target": "7",
			"sync_status": {"running":false,"last_sync":"2024-03-01T08:30:00Z","error":null,"output":"OK"},
			"api_endpoints": {
				"token": "/token",
				"health": "/health",
				"info": "/info",
				"sync": "/sync (POST)",
				"sync_status": "/sync/status",
				"version": "/version"
			},
			"joplin_data_api_url": "http://192.168.1.20:41185"
		}`, rr.Body.String())
	})

	t.Run("failures fall back", func(t *testing.T) {
		t.Parallel()

		router, coord, client := newRouter(t)
		coord.EXPECT().Status().Return(status.SyncStatus{})
		client.EXPECT().Status(gomock.Any()).Return("", &joplin.CommandError{Message: "locked"})
		client.EXPECT().ConfigValue(gomock.Any(), "sync.target").Return("", joplin.ErrParse)
		client.EXPECT().Version(gomock.Any()).Return(nil, errors.New("no version"))

		rr := doRequest(t, router, http.MethodGet, "/info", "", "")
		require.Equal(t, http.StatusOK, rr.Code)

		var body v0.InfoResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "Unknown", body.Status)
		assert.Equal(t, "Unknown", body.SyncTarget)
		assert.Equal(t, "CLI", body.JoplinVersion)
	})
}

func TestVersion(t *testing.T) {
	t.Parallel()

	router, _, _ := newRouter(t)
	rr := doRequest(t, router, http.MethodGet, "/version", "", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["go_version"])
}

func TestRequestTimeoutSkipsSync(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	coord := coordmocks.NewMockCoordinator(ctrl)
	client := joplinmocks.NewMockClient(ctrl)
	router := v0.Router(v0.NewRoutes(coord, client, v0.WithRequestTimeout(time.Millisecond)))

	coord.EXPECT().TriggerSync(gomock.Any(), false).DoAndReturn(func(ctx context.Context, _ bool) *coordinator.Outcome {
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, ctx.Err())
		return &coordinator.Outcome{Kind: coordinator.OutcomeCompleted, Result: &runner.Result{Success: true}}
	})
	rr := doRequest(t, router, http.MethodPost, "/sync", "application/json", `{"background":false}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	client.EXPECT().Token(gomock.Any()).DoAndReturn(func(ctx context.Context) (string, error) {
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
		return "", &joplin.CommandError{Message: "Command canceled"}
	})
	rr = doRequest(t, router, http.MethodGet, "/token", "", "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"success":false,"error":"Command canceled"}`, rr.Body.String())
}
