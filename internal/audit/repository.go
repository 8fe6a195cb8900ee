// Package audit records operator actions in the audit_logs table: setting
// changes and resets, alert acknowledgements and manually entered readings.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
)

// Entities an entry can refer to.
const (
	EntitySetting = "setting"
	EntityAlert   = "alert"
	EntityReading = "reading"
)

// Actions.
const (
	ActionUpdate      = "update"
	ActionReset       = "reset"
	ActionAcknowledge = "acknowledge"
	ActionCreate      = "create"
)

// AllEntities is the EntityID recorded for actions on every record of an
// entity, such as a settings reset or acknowledging all alerts.
const AllEntities = "*"

// AnonymousActor is recorded when the caller is not authenticated.
const AnonymousActor = "anonymous"

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// ErrInvalidEntry is returned by Create for an entry without action or entity.
var ErrInvalidEntry = errors.New("invalid audit entry")

// Entry is one audited action. OldValue and NewValue are the textual
// before and after values where the action has them.
type Entry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Entity    string    `json:"entity"`
	EntityID  string    `json:"entity_id"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter selects entries. Empty fields match everything.
type Filter struct {
	Action   string
	Entity   string
	EntityID string
	Since    time.Time // inclusive
	Limit    int       // default 50, max 200
	Offset   int
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if f.Action != "" {
		add("action = ?", f.Action)
	}
	if f.Entity != "" {
		add("entity = ?", f.Entity)
	}
	if f.EntityID != "" {
		add("entity_id = ?", f.EntityID)
	}
	if !f.Since.IsZero() {
		add("created_at >= ?", database.FormatTime(f.Since))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Logs   []Entry `json:"logs"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository stores and lists audit entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the Repository backed by audit_logs.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts entry, filling in ID, CreatedAt and Actor when empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.Action == "" || entry.Entity == "" {
		return fmt.Errorf("%w: action and entity are required", ErrInvalidEntry)
	}
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = AnonymousActor
	}

	const query = `INSERT INTO audit_logs
		(id, action, entity, entity_id, actor, old_value, new_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Action, entry.Entity, entry.EntityID, entry.Actor,
		entry.OldValue, entry.NewValue, database.FormatTime(entry.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns one page of entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultPageSize
	case filter.Limit > maxPageSize:
		filter.Limit = maxPageSize
	}
	filter.Offset = max(filter.Offset, 0)

	where, args := filter.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil { //nolint:gosec // WHERE built from placeholders
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, //nolint:gosec // WHERE built from placeholders
		`SELECT id, action, entity, entity_id, actor, old_value, new_value, created_at
		 FROM audit_logs`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, filter.Limit, filter.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	result := &ListResult{Logs: []Entry{}, Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result.Logs = append(result.Logs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}
	return result, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		entry            Entry
		oldValue, newVal sql.NullString
		createdAt        string
	)
	if err := rows.Scan(&entry.ID, &entry.Action, &entry.Entity, &entry.EntityID,
		&entry.Actor, &oldValue, &newVal, &createdAt); err != nil {
		return nil, fmt.Errorf("scanning audit entry: %w", err)
	}

	if oldValue.Valid {
		entry.OldValue = &oldValue.String
	}
	if newVal.Valid {
		entry.NewValue = &newVal.String
	}

	var err error
	if entry.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing audit entry timestamp: %w", err)
	}
	return &entry, nil
}

// StringPtr returns a pointer to s, for populating OldValue/NewValue.
func StringPtr(s string) *string {
	return &s
}
