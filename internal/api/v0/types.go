package v0

import "github.com/stacklok/joplin-bridge/internal/status"

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status             string `json:"status" example:"healthy"`
	JoplinAPIAvailable bool   `json:"joplin_api_available"`
	SyncRunning        bool   `json:"sync_running"`
	AddonVersion       string `json:"addon_version" example:"1.0.0"`
}

// TokenResponse is returned by GET /token
type TokenResponse struct {
	Success          bool   `json:"success"`
	Token            string `json:"token"`
	JoplinDataAPIURL string `json:"joplin_data_api_url" example:"http://127.0.0.1:41185"`
}

// SyncStartedResponse is returned by POST /sync for background and conflicting triggers
type SyncStartedResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Status  status.SyncStatus `json:"status"`
}

// SyncCompletedResponse is returned by POST /sync for foreground triggers
type SyncCompletedResponse struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Output  string            `json:"output"`
	Error   *string           `json:"error"`
	Status  status.SyncStatus `json:"status"`
}

// SyncStatusResponse is returned by GET /sync/status
type SyncStatusResponse struct {
	Success bool              `json:"success"`
	Status  status.SyncStatus `json:"status"`
}

// InfoResponse is returned by GET /info
type InfoResponse struct {
	Success          bool              `json:"success"`
	AddonVersion     string            `json:"addon_version"`
	JoplinVersion    string            `json:"joplin_version"`
	Status           string            `json:"status"`
	SyncTarget       string            `json:"sync_target"`
	SyncStatus       status.SyncStatus `json:"sync_status"`
	APIEndpoints     map[string]string `json:"api_endpoints"`
	JoplinDataAPIURL string            `json:"joplin_data_api_url"`
}
