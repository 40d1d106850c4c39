package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vincentbai/browsetrace-replay/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

var ErrSessionNotFound = errors.New("session not found")

type Database struct {
	db  *sql.DB
	now func() time.Time
}

// SessionSummary describes an archived session without its events.
type SessionSummary struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	StartTime  time.Time     `json:"start_time"`
	CreatedAt  time.Time     `json:"created_at"`
	EventCount int           `json:"event_count"`
	Duration   time.Duration `json:"duration"`
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{db: db, now: time.Now}, nil
}

func eventTypeList() string {
	quoted := make([]string, 0, len(models.EventTypes()))
	for _, eventType := range models.EventTypes() {
		quoted = append(quoted, "'"+string(eventType)+"'")
	}
	return strings.Join(quoted, ",")
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions(
	  id          TEXT    PRIMARY KEY,
	  name        TEXT    NOT NULL,
	  start_time  TEXT    NOT NULL,
	  created_at  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS events(
	  id          INTEGER PRIMARY KEY,
	  session_id  TEXT    NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	  seq         INTEGER NOT NULL,
	  timestamp   REAL    NOT NULL CHECK (timestamp >= 0),
	  type        TEXT    NOT NULL CHECK (type IN (` + eventTypeList() + `)),
	  data_json   TEXT    NOT NULL CHECK (json_valid(data_json)),
	  delay       REAL    CHECK (delay IS NULL OR delay >= 0),
	  UNIQUE(session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_events_type    ON events(type);
	CREATE INDEX IF NOT EXISTS idx_sessions_name  ON sessions(name);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) ValidateEvent(event models.Event) error {
	return event.Validate()
}

// SaveSession archives a whole session under a new id. Nothing is stored if
// any event is invalid.
func (d *Database) SaveSession(name string, session models.Session) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name cannot be empty")
	}
	if session.StartTime.IsZero() {
		return "", fmt.Errorf("start time cannot be empty")
	}

	id := uuid.NewString()
	transaction, err := d.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := transaction.Exec(`INSERT INTO sessions(id, name, start_time, created_at) VALUES(?,?,?,?)`,
		id, name, session.StartTime.Format(time.RFC3339Nano), d.now().UnixMilli()); err != nil {
		_ = transaction.Rollback()
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	statement, err := transaction.Prepare(`INSERT INTO events(session_id, seq, timestamp, type, data_json, delay) VALUES(?,?,?,?,json(?),?)`)
	if err != nil {
		_ = transaction.Rollback()
		return "", fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for seq, event := range session.Events {
		if err := d.ValidateEvent(event); err != nil {
			_ = transaction.Rollback()
			return "", fmt.Errorf("invalid event %d: %w", seq, err)
		}

		data := event.Data
		if data == nil {
			data = map[string]any{}
		}
		jsonData, err := json.Marshal(data)
		if err != nil {
			_ = transaction.Rollback()
			return "", fmt.Errorf("failed to marshal event data: %w", err)
		}
		if _, err := statement.Exec(id, seq, event.Timestamp, string(event.Type), string(jsonData), event.Delay); err != nil {
			_ = transaction.Rollback()
			return "", fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return id, nil
}

func (d *Database) LoadSession(id string) (models.Session, error) {
	var startTime string
	err := d.db.QueryRow(`SELECT start_time FROM sessions WHERE id = ?`, id).Scan(&startTime)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to query session: %w", err)
	}
	start, err := models.ParseStartTime(startTime)
	if err != nil {
		return models.Session{}, err
	}

	rows, err := d.db.Query(`SELECT timestamp, type, data_json, delay FROM events WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	session := models.Session{StartTime: start, Events: []models.Event{}}
	for rows.Next() {
		var (
			event    models.Event
			dataJSON string
			delay    sql.NullFloat64
		)
		if err := rows.Scan(&event.Timestamp, &event.Type, &dataJSON, &delay); err != nil {
			return models.Session{}, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &event.Data); err != nil {
			return models.Session{}, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		if delay.Valid {
			value := delay.Float64
			event.Delay = &value
		}
		session.Events = append(session.Events, event)
	}
	if err := rows.Err(); err != nil {
		return models.Session{}, fmt.Errorf("failed to read events: %w", err)
	}
	return session, nil
}

// ListSessions returns archived sessions, newest first.
func (d *Database) ListSessions() ([]SessionSummary, error) {
	rows, err := d.db.Query(`
	SELECT s.id, s.name, s.start_time, s.created_at, COUNT(e.id), COALESCE(MAX(e.timestamp), 0)
	FROM sessions s LEFT JOIN events e ON e.session_id = s.id
	GROUP BY s.id
	ORDER BY s.created_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []SessionSummary{}
	for rows.Next() {
		var (
			summary   SessionSummary
			startTime string
			createdAt int64
			duration  float64
		)
		if err := rows.Scan(&summary.ID, &summary.Name, &startTime, &createdAt, &summary.EventCount, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if summary.StartTime, err = models.ParseStartTime(startTime); err != nil {
			return nil, err
		}
		summary.CreatedAt = time.UnixMilli(createdAt)
		summary.Duration = time.Duration(duration * float64(time.Second))
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}
	return summaries, nil
}

func (d *Database) DeleteSession(id string) error {
	result, err := d.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
