package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/irrigation-core/internal/audit"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on requests.
const auditChanSize = 256

// auditLog enqueues an audit entry for asynchronous write (best-effort).
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) auditLog(entity, action, entityID, actor string, oldValue, newValue *string) {
	if s.auditCh == nil {
		return
	}

	entry := &audit.Entry{
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Actor:    actor,
		OldValue: oldValue,
		NewValue: newValue,
	}

	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"entity", entity,
			"action", action,
			"entity_id", entityID,
		)
	}
}

// drainAuditLog reads entries from the audit channel and writes them serially.
// It runs until the context is cancelled, then drains remaining entries.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAuditEntry(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAuditEntry(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAuditEntry(entry *audit.Entry) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit entries with optional filters.
//
// Query parameters:
//   - entity: setting, alert or reading
//   - action: update, reset, acknowledge or create
//   - entity_id: setting name, alert id or reading id
//   - since: RFC 3339 or YYYY-MM-DD lower bound
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	limit, offset, err := pageParams(q, 0)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	since, err := parseSince(q.Get("since"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	result, err := s.auditRepo.List(r.Context(), audit.Filter{
		Action:   q.Get("action"),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Since:    since,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Data:       result.Logs,
		Pagination: pagination{Limit: result.Limit, Offset: result.Offset, Total: result.Total},
	})
}

// parseSince accepts an RFC 3339 timestamp or a calendar date (UTC
// midnight). Empty means no bound.
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("since must be RFC 3339 or YYYY-MM-DD, got %q", raw)
}
