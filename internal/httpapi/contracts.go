package httpapi

import "github.com/utrack/hypelens/internal/model"

// StreamRequest defines filters for one tap session.
type StreamRequest struct {
	Types          []model.EventType `json:"types"`
	Sources        []string          `json:"sources"`
	Messages       []string          `json:"messages"`
	FailedOnly     bool              `json:"failed_only"`
	MaxEvents      int               `json:"max_events"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// StatusResponse is served on /v1/status.
type StatusResponse struct {
	Components  []model.ComponentStatus `json:"components"`
	TapSessions int                     `json:"tap_sessions"`
}

// StreamError is serialized for API-level failures.
type StreamError struct {
	Error string `json:"error"`
}
