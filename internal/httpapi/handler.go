package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/utrack/hypelens/internal/model"
	"github.com/utrack/hypelens/internal/tap"
	"go.uber.org/zap"
)

const defaultSessionTimeout = 30 * time.Second

// StatusSource reports the state of agent components.
type StatusSource interface {
	Status() []model.ComponentStatus
}

// Handler exposes health, status and the delivery tap.
type Handler struct {
	registry *tap.Registry
	status   StatusSource
	logger   *zap.Logger
}

func NewHandler(registry *tap.Registry, status StatusSource, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{registry: registry, status: status, logger: logger}
}

// RegisterRoutes registers HTTP routes for the API server.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/status", h.handleStatus)
	mux.HandleFunc("/v1/events/stream", h.handleStream)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := StatusResponse{
		Components:  []model.ComponentStatus{},
		TapSessions: h.registry.Len(),
	}
	if h.status != nil {
		if components := h.status.Status(); components != nil {
			resp.Components = components
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateRequest(req); err != nil {
		h.writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	timeout := defaultSessionTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	session, err := h.registry.Register(ctx, tap.RegisterRequest{
		Filter:     requestToFilter(req),
		MaxEvents:  req.MaxEvents,
		BufferSize: req.MaxEvents,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tap.ErrSessionLimitReached) {
			status = http.StatusTooManyRequests
		}
		h.writeErr(w, status, err.Error())
		return
	}
	defer h.registry.Deregister(session.ID())

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeErr(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	end := func() {
		_ = enc.Encode(model.StreamEnd{
			Type:      "end",
			SessionID: session.ID(),
			Sent:      session.Sent(),
			Dropped:   session.Dropped(),
		})
		flusher.Flush()
	}
	for {
		select {
		case <-ctx.Done():
			end()
			return
		case rec, ok := <-session.Records():
			if !ok {
				end()
				return
			}
			if err := enc.Encode(rec); err != nil {
				h.logger.Debug("failed to stream record", zap.Error(err), zap.String("session_id", session.ID()))
				return
			}
			flusher.Flush()
		}
	}
}

func validateRequest(req StreamRequest) error {
	if req.MaxEvents <= 0 {
		return errors.New("max_events must be > 0")
	}
	if req.TimeoutSeconds < 0 {
		return errors.New("timeout_seconds must be >= 0")
	}
	return nil
}

func requestToFilter(req StreamRequest) tap.Filter {
	types := make(map[model.EventType]struct{}, len(req.Types))
	for _, t := range req.Types {
		types[t] = struct{}{}
	}
	return tap.Filter{
		Sources:    toSet(req.Sources),
		Messages:   toSet(req.Messages),
		Types:      types,
		FailedOnly: req.FailedOnly,
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

func (h *Handler) writeErr(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(StreamError{Error: message})
}
