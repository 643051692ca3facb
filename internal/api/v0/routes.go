// Package v0 provides the REST handlers of the joplin bridge.
package v0

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"github.com/stacklok/joplin-bridge/internal/api/common"
	"github.com/stacklok/joplin-bridge/internal/joplin"
	"github.com/stacklok/joplin-bridge/internal/sync/coordinator"
	"github.com/stacklok/joplin-bridge/internal/versions"
)

const (
	// DefaultAddonVersion is reported when no version is configured
	DefaultAddonVersion = "1.0.0"

	// DefaultDataAPIPort is the port of joplin's data API
	DefaultDataAPIPort = 41185

	// maxSyncBodyBytes bounds the POST /sync body
	maxSyncBodyBytes = 64 << 10

	unknownValue = "Unknown"
)

// apiEndpoints is the catalogue reported by GET /info
var apiEndpoints = map[string]string{
	"token":       "/token",
	"health":      "/health",
	"info":        "/info",
	"sync":        "/sync (POST)",
	"sync_status": "/sync/status",
	"version":     "/version",
}

// Routes holds the handlers and their collaborators
type Routes struct {
	coordinator    coordinator.Coordinator
	client         joplin.Client
	addonVersion   string
	dataAPIPort    int
	requestTimeout time.Duration
}

// RoutesOption configures Routes
type RoutesOption func(*Routes)

// WithAddonVersion sets the version reported by /health and /info
func WithAddonVersion(version string) RoutesOption {
	return func(r *Routes) {
		r.addonVersion = version
	}
}

// WithDataAPIPort sets the port advertised in joplin_data_api_url
func WithDataAPIPort(port int) RoutesOption {
	return func(r *Routes) {
		r.dataAPIPort = port
	}
}

// WithRequestTimeout bounds every route except POST /sync, which runs as long as the sync does
func WithRequestTimeout(timeout time.Duration) RoutesOption {
	return func(r *Routes) {
		r.requestTimeout = timeout
	}
}

// NewRoutes creates a new Routes instance with the provided collaborators
func NewRoutes(coord coordinator.Coordinator, client joplin.Client, opts ...RoutesOption) *Routes {
	routes := &Routes{
		coordinator:  coord,
		client:       client,
		addonVersion: DefaultAddonVersion,
		dataAPIPort:  DefaultDataAPIPort,
	}
	for _, opt := range opts {
		opt(routes)
	}
	return routes
}

// Router creates the router of every bridge endpoint
func Router(routes *Routes) http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		if routes.requestTimeout > 0 {
			r.Use(middleware.Timeout(routes.requestTimeout))
		}
		r.Get("/health", routes.health)
		r.Get("/token", routes.token)
		r.Get("/sync/status", routes.syncStatus)
		r.Get("/info", routes.info)
		r.Get("/version", versionHandler)
	})

	r.Post("/sync", routes.triggerSync)

	return r
}

// health handles GET /health
//
// @Summary		Health check
// @Description	Report liveness and whether a sync is running
// @Tags			system
// @Produce		json
// @Success		200	{object}	HealthResponse
// @Router			/health [get]
func (rr *Routes) health(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{
		Status:             "healthy",
		JoplinAPIAvailable: true,
		SyncRunning:        rr.coordinator.Status().Running,
		AddonVersion:       rr.addonVersion,
	}, http.StatusOK)
}

// token handles GET /token
//
// @Summary		Get data API token
// @Description	Read api.token from the joplin config and advertise the data API URL
// @Tags			joplin
// @Produce		json
// @Success		200	{object}	TokenResponse
// @Failure		500	{object}	common.ErrorResponse
// @Router			/token [get]
func (rr *Routes) token(w http.ResponseWriter, r *http.Request) {
	token, err := rr.client.Token(r.Context())
	if err != nil {
		var cmdErr *joplin.CommandError
		switch {
		case errors.Is(err, joplin.ErrParse):
			slog.Warn("Unexpected token output", "error", err)
			common.WriteErrorResponse(w, "Could not parse token", http.StatusInternalServerError)
		case errors.As(err, &cmdErr):
			slog.Error("Failed to get token", "error", err)
			common.WriteErrorResponse(w, cmdErr.Message, http.StatusInternalServerError)
		default:
			slog.Error("Failed to get token", "error", err)
			common.WriteErrorResponse(w, "Failed to get token", http.StatusInternalServerError)
		}
		return
	}

	common.WriteJSONResponse(w, TokenResponse{
		Success:          true,
		Token:            token,
		JoplinDataAPIURL: rr.dataAPIURL(r),
	}, http.StatusOK)
}

// triggerSync handles POST /sync
//
// @Summary		Trigger a sync
// @Description	Start a joplin sync in the background (default) or wait for it
// @Tags			sync
// @Accept			json
// @Produce		json
// @Param			body	body		object	false	"{\"background\": bool}"
// @Success		200		{object}	SyncCompletedResponse
// @Failure		400		{object}	common.ErrorResponse
// @Failure		409		{object}	SyncStartedResponse
// @Router			/sync [post]
func (rr *Routes) triggerSync(w http.ResponseWriter, r *http.Request) {
	background, err := parseBackground(w, r)
	if err != nil {
		slog.Debug("Rejected sync request", "error", err)
		common.WriteErrorResponse(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	outcome := rr.coordinator.TriggerSync(r.Context(), background)

	switch outcome.Kind {
	case coordinator.OutcomeConflict:
		common.WriteJSONResponse(w, SyncStartedResponse{
			Success: false,
			Message: "Sync already in progress",
			Status:  outcome.Status,
		}, http.StatusConflict)
	case coordinator.OutcomeAccepted:
		common.WriteJSONResponse(w, SyncStartedResponse{
			Success: true,
			Message: "Background sync started",
			Status:  outcome.Status,
		}, http.StatusOK)
	default:
		common.WriteJSONResponse(w, SyncCompletedResponse{
			Success: outcome.Success(),
			Message: "Sync completed",
			Output:  outcome.Output(),
			Error:   outcome.ErrorText(),
			Status:  outcome.Status,
		}, http.StatusOK)
	}
}

// syncStatus handles GET /sync/status
//
// @Summary		Sync status
// @Description	Snapshot of the last sync attempt
// @Tags			sync
// @Produce		json
// @Success		200	{object}	SyncStatusResponse
// @Router			/sync/status [get]
func (rr *Routes) syncStatus(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, SyncStatusResponse{
		Success: true,
		Status:  rr.coordinator.Status(),
	}, http.StatusOK)
}

// info handles GET /info
//
// @Summary		Bridge and joplin information
// @Description	Versions, CLI status, sync target and the endpoint catalogue
// @Tags			system
// @Produce		json
// @Success		200	{object}	InfoResponse
// @Router			/info [get]
func (rr *Routes) info(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cliStatus, err := rr.client.Status(ctx)
	if err != nil {
		slog.Debug("joplin status failed", "error", err)
		cliStatus = unknownValue
	}

	syncTarget, err := rr.client.ConfigValue(ctx, joplin.SyncTargetKey)
	if err != nil {
		slog.Debug("joplin sync target unavailable", "error", err)
		syncTarget = unknownValue
	}

	joplinVersion := "CLI"
	if v, err := rr.client.Version(ctx); err == nil {
		joplinVersion = v.String()
	} else {
		slog.Debug("joplin version unavailable", "error", err)
	}

	common.WriteJSONResponse(w, InfoResponse{
		Success:          true,
		AddonVersion:     rr.addonVersion,
		JoplinVersion:    joplinVersion,
		Status:           cliStatus,
		SyncTarget:       syncTarget,
		SyncStatus:       rr.coordinator.Status(),
		APIEndpoints:     apiEndpoints,
		JoplinDataAPIURL: rr.dataAPIURL(r),
	}, http.StatusOK)
}

// versionHandler handles GET /version
//
// @Summary		Version information
// @Description	Build information of the bridge
// @Tags			system
// @Produce		json
// @Success		200	{object}	versions.VersionInfo
// @Router			/version [get]
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, versions.GetVersionInfo(), http.StatusOK)
}

// dataAPIURL points at joplin's data API on the host the client used to reach the bridge.
func (rr *Routes) dataAPIURL(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(rr.dataAPIPort))
}

var errInvalidBody = errors.New("invalid JSON body")

// parseBackground reads the optional {"background": bool} body. Background is
// the default: an empty body, a non-JSON content type or a missing or null
// field all mean true. Non-boolean values follow JSON truthiness.
func parseBackground(w http.ResponseWriter, r *http.Request) (bool, error) {
	if r.Body == nil {
		return true, nil
	}
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType != "application/json" {
		return true, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSyncBodyBytes))
	if err != nil {
		return false, errInvalidBody
	}
	if len(body) == 0 {
		return true, nil
	}
	if !gjson.ValidBytes(body) {
		return false, errInvalidBody
	}

	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return false, errInvalidBody
	}

	field := doc.Get("background")
	if !field.Exists() || field.Type == gjson.Null {
		return true, nil
	}
	return truthy(field), nil
}

func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.True:
		return true
	case gjson.False, gjson.Null:
		return false
	case gjson.Number:
		return v.Num != 0
	case gjson.String:
		return v.Str != ""
	default:
		if v.IsArray() {
			return len(v.Array()) > 0
		}
		return len(v.Map()) > 0
	}
}
