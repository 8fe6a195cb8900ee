package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/irrigation-core/internal/audit"
	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// handleListRelayEvents returns a page of relay events, newest first.
//
// Query parameters:
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
//   - from, to: inclusive UTC calendar days (YYYY-MM-DD)
func (s *Server) handleListRelayEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, err := pageParams(q, telemetry.DefaultEventLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	from, to, err := dateRange(q)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.telemetry.ListRelayEvents(r.Context(), telemetry.RangeFilter{
		From:   from,
		To:     to,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list relay events", "error", err)
		writeInternalError(w, "failed to list relay events")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Data:       page.Events,
		Pagination: pagination{Limit: page.Limit, Offset: page.Offset, Total: page.Total},
	})
}

// handleListAlerts returns a page of alerts, newest first.
//
// Query parameters:
//   - status: unread (default), read or all
//   - limit: page size (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := telemetry.AlertStatus(q.Get("status"))
	switch status {
	case "":
		status = telemetry.AlertStatusUnread
	case telemetry.AlertStatusUnread, telemetry.AlertStatusRead, telemetry.AlertStatusAll:
	default:
		writeBadRequest(w, "status must be unread, read or all")
		return
	}
	limit, offset, err := pageParams(q, telemetry.DefaultEventLimit)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	page, err := s.telemetry.ListAlerts(r.Context(), telemetry.AlertFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list alerts", "status", status, "error", err)
		writeInternalError(w, "failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Data:       page.Alerts,
		Pagination: pagination{Limit: page.Limit, Offset: page.Offset, Total: page.Total},
	})
}

// handleMarkAlertRead acknowledges one alert.
func (s *Server) handleMarkAlertRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(w, "alert id must be a positive integer")
		return
	}

	if err := s.telemetry.MarkAlertRead(r.Context(), id); err != nil {
		if errors.Is(err, telemetry.ErrAlertNotFound) {
			writeNotFound(w, "alert not found")
			return
		}
		s.logger.Error("failed to mark alert read", "alert_id", id, "error", err)
		writeInternalError(w, "failed to mark alert read")
		return
	}

	actor := actorFromContext(r.Context())
	s.logger.Info("alert acknowledged", "alert_id", id, "actor", actor)
	s.auditLog(audit.EntityAlert, audit.ActionAcknowledge, strconv.FormatInt(id, 10), actor, nil, nil)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "read": true})
}

// handleMarkAllAlertsRead acknowledges every unread alert.
func (s *Server) handleMarkAllAlertsRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.telemetry.MarkAllAlertsRead(r.Context())
	if err != nil {
		s.logger.Error("failed to mark alerts read", "error", err)
		writeInternalError(w, "failed to mark alerts read")
		return
	}

	actor := actorFromContext(r.Context())
	s.logger.Info("all alerts acknowledged", "count", n, "actor", actor)
	if n > 0 {
		s.auditLog(audit.EntityAlert, audit.ActionAcknowledge, audit.AllEntities, actor,
			nil, audit.StringPtr(strconv.FormatInt(n, 10)))
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}
