package api

import "time"

type SyncResponse struct {
	Count        int    `json:"count"`
	LastSyncedAt string `json:"lastSyncedAt,omitempty"`
}

type StatusResponse struct {
	Exists       bool   `json:"exists"`
	LastSyncedAt string `json:"lastSyncedAt,omitempty"`
	Count        int    `json:"count"`
}

type ClearResponse struct {
	Cleared bool `json:"cleared"`
}

type TickAuditResponse struct {
	ID          string `json:"id"`
	At          string `json:"at"`
	SincePrevMs int64  `json:"sincePrevMs"`
	Checked     int    `json:"checked"`
	Sent        int    `json:"sent"`
	Skipped     int    `json:"skipped"`
	Errors      int    `json:"errors"`
}

type AuditResponse struct {
	Ticks []TickAuditResponse `json:"ticks"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
