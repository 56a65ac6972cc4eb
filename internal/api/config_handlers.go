package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-console/internal/editor"
	"github.com/JakeFAU/crawl-console/internal/jobs"
	"github.com/JakeFAU/crawl-console/internal/monitor"
)

const maxConfigPatchBytes = 1 << 20

// ConfigHandler reads and edits crawler configurations. Every edit goes through
// an editor subscribed to activation notifications, so an activation landing
// mid-request is not overwritten by the save.
type ConfigHandler struct {
	configs  jobs.ConfigStore
	notifier *monitor.Notifier
	logger   *zap.Logger
}

// NewConfigHandler constructs a ConfigHandler.
func NewConfigHandler(configs jobs.ConfigStore, notifier *monitor.Notifier, logger *zap.Logger) *ConfigHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigHandler{configs: configs, notifier: notifier, logger: logger}
}

// Get handles GET /v1/configs/{code}.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	cfg, err := h.configs.GetConfig(r.Context(), code)
	if err != nil {
		h.writeStoreError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": cfg})
}

// Patch handles PATCH /v1/configs/{code}. The body is a partial configuration
// record; fields it names replace the stored values. Setting active is refused:
// only a finished test run activates a configuration.
func (h *ConfigHandler) Patch(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(chi.URLParam(r, "code"))
	var patch json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigPatchBytes)).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if trimmed := bytes.TrimSpace(patch); len(trimmed) == 0 || trimmed[0] != '{' {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return
	}

	ed, err := editor.Open(r.Context(), h.configs, h.notifier, code, h.logger.Named("editor"))
	if err != nil {
		h.writeStoreError(w, code, err)
		return
	}
	defer ed.Close()

	var decodeErr error
	editErr := ed.Edit(func(cfg *jobs.Configuration) {
		decodeErr = json.Unmarshal(patch, cfg)
	})
	switch {
	case decodeErr != nil:
		writeError(w, http.StatusBadRequest, "invalid configuration fields")
		return
	case errors.Is(editErr, editor.ErrActivationRequiresTestRun):
		writeError(w, http.StatusConflict, editErr.Error())
		return
	case editErr != nil:
		writeError(w, http.StatusBadRequest, editErr.Error())
		return
	}

	saved, err := ed.Save(r.Context())
	if err != nil {
		h.writeStoreError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": saved})
}

func (h *ConfigHandler) writeStoreError(w http.ResponseWriter, code string, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "configuration not found")
		return
	}
	h.logger.Error("configuration request failed", zap.String("config_code", code), zap.Error(err))
	writeError(w, http.StatusBadGateway, "configuration store unavailable")
}
