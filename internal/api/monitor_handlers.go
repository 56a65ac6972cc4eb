package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/monitor"
)

// MonitorHandler exposes run monitors over HTTP. Each monitor stands in for one
// open console view.
type MonitorHandler struct {
	registry *monitor.Registry
	configs  jobs.ConfigStore
	logger   *zap.Logger
}

// NewMonitorHandler wires the registry and configuration store.
func NewMonitorHandler(registry *monitor.Registry, configs jobs.ConfigStore, logger *zap.Logger) *MonitorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MonitorHandler{registry: registry, configs: configs, logger: logger}
}

type openRequest struct {
	ConfigCode string       `json:"config_code"`
	TestRun    *bool        `json:"test_run"`
	JobType    jobs.JobType `json:"job_type"`
	Parameters string       `json:"parameters"`
}

type closeRequest struct {
	Confirm bool `json:"confirm"`
}

type monitorResponse struct {
	Monitor monitor.Snapshot `json:"monitor"`
	Error   string           `json:"error,omitempty"`
}

// List handles GET /v1/monitors.
func (h *MonitorHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"monitors": h.registry.List()})
}

// Create handles POST /v1/monitors. With an empty body it returns an idle
// monitor; with a config_code it also opens a session, answering 201 even when
// job creation failed so the caller can render the error state.
func (h *MonitorHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeOpenRequest(w, r, true)
	if !ok {
		return
	}
	m, err := h.registry.Create()
	if err != nil {
		h.logger.Error("create monitor failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create monitor")
		return
	}
	if req.ConfigCode == "" && req.JobType == "" {
		writeJSON(w, http.StatusCreated, monitorResponse{Monitor: m.Snapshot()})
		return
	}
	h.open(r.Context(), w, m, req, http.StatusCreated)
}

// Get handles GET /v1/monitors/{monitor_id}.
func (h *MonitorHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, monitorResponse{Monitor: m.Snapshot()})
}

// Open handles POST /v1/monitors/{monitor_id}/open. An open session on the
// monitor is closed first.
func (h *MonitorHandler) Open(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := decodeOpenRequest(w, r, false)
	if !ok {
		return
	}
	h.open(r.Context(), w, m, req, http.StatusOK)
}

func (h *MonitorHandler) open(ctx context.Context, w http.ResponseWriter, m *monitor.Monitor, req openRequest, okStatus int) {
	var (
		snap monitor.Snapshot
		err  error
	)
	switch req.JobType {
	case "", jobs.JobTypeCrawl:
		cfg, cfgErr := h.configs.GetConfig(ctx, req.ConfigCode)
		if cfgErr != nil {
			if errors.Is(cfgErr, jobs.ErrNotFound) {
				writeError(w, http.StatusNotFound, "configuration not found")
				return
			}
			h.logger.Error("load configuration failed", zap.String("config_code", req.ConfigCode), zap.Error(cfgErr))
			writeError(w, http.StatusBadGateway, "failed to load configuration")
			return
		}
		testRun := true
		if req.TestRun != nil {
			testRun = *req.TestRun
		}
		snap, err = m.Open(ctx, cfg, testRun)
	case jobs.JobTypeProductMapping, jobs.JobTypeProductCleanup:
		snap, err = m.OpenJob(ctx, jobs.CreateRequest{
			Type:       req.JobType,
			ConfigCode: req.ConfigCode,
			Parameters: req.Parameters,
		})
	default:
		writeError(w, http.StatusBadRequest, "unsupported job_type")
		return
	}
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrBusy), errors.Is(err, monitor.ErrNoSession):
			writeJSON(w, http.StatusConflict, monitorResponse{Monitor: snap, Error: err.Error()})
			return
		case snap.Phase == monitor.PhaseIdle:
			h.logger.Error("open monitor failed", zap.String("monitor_id", m.ID()), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, monitorResponse{Monitor: snap, Error: err.Error()})
			return
		}
		// Creation and status failures are part of the session state.
		writeJSON(w, okStatus, monitorResponse{Monitor: snap, Error: err.Error()})
		return
	}
	writeJSON(w, okStatus, monitorResponse{Monitor: snap})
}

// Close handles POST /v1/monitors/{monitor_id}/close. Closing over an in-flight
// job needs {"confirm": true}; without it the answer is 409 with the prompt.
func (h *MonitorHandler) Close(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req closeRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var confirm monitor.Confirmer
	if req.Confirm {
		confirm = monitor.ConfirmFunc(func(context.Context, string) bool { return true })
	}
	outcome, err := m.Close(r.Context(), true, confirm)
	if err != nil {
		h.logger.Warn("close monitor failed", zap.String("monitor_id", m.ID()), zap.Error(err))
	}
	if outcome == monitor.CloseDeclined {
		writeJSON(w, http.StatusConflict, map[string]any{
			"outcome": outcome,
			"prompt":  monitor.ConfirmClosePrompt,
			"monitor": m.Snapshot(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome, "monitor": m.Snapshot()})
}

// Activate handles POST /v1/monitors/{monitor_id}/activate.
func (h *MonitorHandler) Activate(w http.ResponseWriter, r *http.Request) {
	m, ok := h.lookup(w, r)
	if !ok {
		return
	}
	activation, err := m.Activate(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrNoSession), errors.Is(err, monitor.ErrNotEligible):
			writeJSON(w, http.StatusConflict, monitorResponse{Monitor: m.Snapshot(), Error: err.Error()})
		case errors.Is(err, monitor.ErrActivationFailed):
			writeJSON(w, http.StatusBadGateway, monitorResponse{Monitor: m.Snapshot(), Error: err.Error()})
		default:
			h.logger.Error("activate failed", zap.String("monitor_id", m.ID()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "activation failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activation": activation, "monitor": m.Snapshot()})
}

// Remove handles DELETE /v1/monitors/{monitor_id}; any session is closed
// without confirmation.
func (h *MonitorHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "monitor_id")
	if err := h.registry.Remove(r.Context(), id); err != nil {
		if errors.Is(err, monitor.ErrMonitorNotFound) {
			writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		h.logger.Warn("remove monitor failed", zap.String("monitor_id", id), zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MonitorHandler) lookup(w http.ResponseWriter, r *http.Request) (*monitor.Monitor, bool) {
	m, err := h.registry.Get(chi.URLParam(r, "monitor_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "monitor not found")
		return nil, false
	}
	return m, true
}

func decodeOpenRequest(w http.ResponseWriter, r *http.Request, optional bool) (openRequest, bool) {
	var req openRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	req.ConfigCode = strings.TrimSpace(req.ConfigCode)
	// Product cleanup is the only job that runs without a configuration.
	if req.ConfigCode == "" && req.JobType != jobs.JobTypeProductCleanup && !optional {
		writeError(w, http.StatusBadRequest, "config_code is required")
		return req, false
	}
	return req, true
}

func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
