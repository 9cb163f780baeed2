package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size limits for history queries.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500

	// writeTimeout bounds one insert made through WriteRecord.
	writeTimeout = 5 * time.Second

	// storedTimeLayout is fixed-width so created_at sorts as text.
	storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is a persisted audit record.
type Entry struct {
	ID string `json:"id"`
	Record
}

// Filter controls which records List returns.
type Filter struct {
	Device string    // optional: exact device label
	Level  Level     // optional: exact level
	Since  time.Time // optional: records at or after this time
	Until  time.Time // optional: records before this time
	Limit  int       // default 50, max 500
	Offset int       // pagination offset
}

// ListResult contains one page of history.
type ListResult struct {
	Records []Entry `json:"records"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries audit history.
type Repository interface {
	Create(ctx context.Context, rec Record) (string, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository keeps audit history in the audit_records table.
// It is also a Destination.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a record and returns its generated ID, a full random UUID.
func (r *SQLiteRepository) Create(ctx context.Context, rec Record) (string, error) {
	id := uuid.NewString()
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_records (id, device, level, message, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, rec.Device, string(rec.Level), rec.Message,
		rec.Time.UTC().Format(storedTimeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("inserting audit record: %w", err)
	}
	return id, nil
}

// WriteRecord persists a record delivered by the sink.
func (r *SQLiteRepository) WriteRecord(rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	_, err := r.Create(ctx, rec)
	return err
}

// List returns records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Device != "" {
		conditions = append(conditions, "device = ?")
		args = append(args, filter.Device)
	}
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filter.Level))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(storedTimeLayout))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.Until.UTC().Format(storedTimeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_records %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit records: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, device, level, message, created_at FROM audit_records %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit records: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			level     string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Device, &level, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit record: %w", err)
		}
		e.Level = Level(level)

		t, err := time.Parse(storedTimeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit record timestamp %q: %w", createdAt, err)
		}
		e.Time = t.Local()

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit records: %w", err)
	}

	return &ListResult{
		Records: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
