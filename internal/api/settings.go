package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/irrigation-core/internal/audit"
	"github.com/nerrad567/irrigation-core/internal/settings"
)

// resetEntityID is the audit entity ID recorded for a full reset.
const resetEntityID = audit.AllEntities

// updateSettingRequest is the body of PUT /settings/{name}. Value may be
// sent as a JSON string or number.
type updateSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// settingValue extracts the raw setting text from a JSON string or number.
func settingValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, true
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String(), true
	}
	return "", false
}

// handleListSettings returns every setting.
func (s *Server) handleListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := s.settings.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list settings", "error", err)
		writeInternalError(w, "failed to list settings")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

// handleGetSetting returns one setting by name.
func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	setting, err := s.settings.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, settings.ErrSettingNotFound) {
			writeNotFound(w, "setting not found: "+name)
			return
		}
		s.logger.Error("failed to read setting", "name", name, "error", err)
		writeInternalError(w, "failed to read setting")
		return
	}
	writeJSON(w, http.StatusOK, setting)
}

// handleDeviceConfig returns the settings the field controller consumes.
func (s *Server) handleDeviceConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.settings.DeviceConfig(r.Context())
	if err != nil {
		s.logger.Error("failed to read device config", "error", err)
		writeInternalError(w, "failed to read device config")
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateSetting validates and stores one setting, records the change
// in the audit trail, and republishes the device config when the setting
// is one the controller consumes.
func (s *Server) handleUpdateSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req updateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value, ok := settingValue(req.Value)
	if !ok {
		writeBadRequest(w, "value must be a string or number")
		return
	}

	ctx := r.Context()
	previous, updated, err := s.settings.Update(ctx, name, value)
	switch {
	case errors.Is(err, settings.ErrSettingNotFound):
		writeNotFound(w, "setting not found: "+name)
		return
	case errors.Is(err, settings.ErrInvalidValue):
		writeValidationError(w, strings.TrimPrefix(err.Error(), "settings: "))
		return
	case err != nil:
		s.logger.Error("failed to update setting", "name", name, "error", err)
		writeInternalError(w, "failed to update setting")
		return
	}

	actor := actorFromContext(ctx)
	s.logger.Info("setting updated", "name", name, "old", previous, "new", updated.Value, "actor", actor)
	s.auditLog(audit.EntitySetting, audit.ActionUpdate, name, actor, audit.StringPtr(previous), audit.StringPtr(updated.Value))

	if settings.IsDeviceSetting(name) {
		s.publishDeviceConfig(ctx)
	}

	writeJSON(w, http.StatusOK, updated)
}

// handleResetSettings restores every setting to its default.
func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := s.settings.Reset(ctx)
	if err != nil {
		s.logger.Error("failed to reset settings", "error", err)
		writeInternalError(w, "failed to reset settings")
		return
	}

	actor := actorFromContext(ctx)
	s.logger.Info("settings reset to defaults", "actor", actor)
	s.auditLog(audit.EntitySetting, audit.ActionReset, resetEntityID, actor, nil, nil)
	s.publishDeviceConfig(ctx)

	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

// publishDeviceConfig pushes the controller's settings to the broker as a
// retained JSON document. It is best-effort; the broker connection logs
// skipped publishes. Reports whether the broker acknowledged it.
func (s *Server) publishDeviceConfig(ctx context.Context) bool {
	if s.mqtt == nil || s.topics.DeviceConfig == "" {
		return false
	}

	cfg, err := s.settings.DeviceConfig(ctx)
	if err != nil {
		s.logger.Error("device config not published", "error", err)
		return false
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		s.logger.Error("device config not published", "error", err)
		return false
	}

	published := s.mqtt.Publish(s.topics.DeviceConfig, payload, true)
	if published {
		s.logger.Info("device config published", "topic", s.topics.DeviceConfig)
	}
	return published
}
