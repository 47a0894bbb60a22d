package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orgsim/internal/domain"
	"orgsim/internal/journal"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at INTEGER NOT NULL,
	step INTEGER NOT NULL DEFAULT 0,
	department TEXT NOT NULL DEFAULT '',
	actor_id TEXT NOT NULL DEFAULT '',
	actor TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_events_department ON events(department, id);
CREATE INDEX IF NOT EXISTS idx_events_severity ON events(severity, id);
`

// Store persists journal events in sqlite so the monitor can tail a
// running simulation from another process.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Record implements journal.Recorder.
func (s *Store) Record(ctx context.Context, ev journal.Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if ev.Severity == "" {
		ev.Severity = journal.SeverityInfo
	}
	detail := []byte("{}")
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("encode event detail: %w", err)
		}
		detail = b
	}
	actorID := ""
	if ev.ActorID != uuid.Nil {
		actorID = ev.ActorID.String()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO events(at, step, department, actor_id, actor, severity, kind, message, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Time.Unix(), ev.Step, string(ev.Department), actorID, ev.Actor,
		string(ev.Severity), ev.Kind, ev.Message, string(detail),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// ListRecent returns the newest events first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]journal.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(
		ctx,
		`SELECT id, at, step, department, actor_id, actor, severity, kind, message, detail
		FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
}

func (s *Store) ListByDepartment(ctx context.Context, dept domain.Department, limit int) ([]journal.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(
		ctx,
		`SELECT id, at, step, department, actor_id, actor, severity, kind, message, detail
		FROM events WHERE department = ? ORDER BY id DESC LIMIT ?`,
		string(dept), limit,
	)
}

func (s *Store) ListBySeverity(ctx context.Context, severity journal.Severity, limit int) ([]journal.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryEvents(
		ctx,
		`SELECT id, at, step, department, actor_id, actor, severity, kind, message, detail
		FROM events WHERE severity = ? ORDER BY id DESC LIMIT ?`,
		string(severity), limit,
	)
}

func (s *Store) CountByDepartment(ctx context.Context) (map[domain.Department]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT department, COUNT(*) FROM events WHERE department != '' GROUP BY department`,
	)
	if err != nil {
		return nil, fmt.Errorf("count by department: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.Department]int)
	for rows.Next() {
		var dept string
		var n int
		if err := rows.Scan(&dept, &n); err != nil {
			return nil, fmt.Errorf("scan department count: %w", err)
		}
		result[domain.Department(dept)] = n
	}
	return result, rows.Err()
}

func (s *Store) CountBySeverity(ctx context.Context) (map[journal.Severity]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT severity, COUNT(*) FROM events GROUP BY severity`,
	)
	if err != nil {
		return nil, fmt.Errorf("count by severity: %w", err)
	}
	defer rows.Close()

	result := make(map[journal.Severity]int)
	for rows.Next() {
		var sev string
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scan severity count: %w", err)
		}
		result[journal.Severity(sev)] = n
	}
	return result, rows.Err()
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]journal.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	result := make([]journal.Event, 0)
	for rows.Next() {
		var ev journal.Event
		var at int64
		var dept, actorID, severity, detail string
		if err := rows.Scan(
			&ev.ID, &at, &ev.Step, &dept, &actorID, &ev.Actor,
			&severity, &ev.Kind, &ev.Message, &detail,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Time = time.Unix(at, 0).UTC()
		ev.Department = domain.Department(dept)
		ev.Severity = journal.Severity(severity)
		if actorID != "" {
			id, err := uuid.Parse(actorID)
			if err != nil {
				return nil, fmt.Errorf("parse actor id %q: %w", actorID, err)
			}
			ev.ActorID = id
		}
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
				return nil, fmt.Errorf("decode event detail: %w", err)
			}
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}
