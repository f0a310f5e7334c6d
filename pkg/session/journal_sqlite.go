package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq INTEGER NOT NULL,
		data TEXT NOT NULL,
		completed_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
`

// SQLiteJournal stores sessions in a SQLite database
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) the database at path
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Create(ctx context.Context, id string, createdAt time.Time) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, created_at, last_activity) VALUES (?, ?, ?)",
		id, createdAt.UnixNano(), createdAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Append(ctx context.Context, id string, turn Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	completed := turn.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM turns WHERE session_id = ?", id,
	).Scan(&next); err != nil {
		return fmt.Errorf("failed to compute turn sequence: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO turns (session_id, seq, data, completed_at) VALUES (?, ?, ?, ?)",
		id, next, string(data), completed.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET last_activity = ? WHERE id = ?", completed.UnixNano(), id,
	); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return tx.Commit()
}

func (j *SQLiteJournal) Clear(ctx context.Context, id string, at time.Time) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET last_activity = ? WHERE id = ?", at.UnixNano(), id,
	); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	return tx.Commit()
}

func (j *SQLiteJournal) Load(ctx context.Context) ([]Session, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, created_at, last_activity FROM sessions ORDER BY created_at, id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	var sessions []Session
	index := make(map[string]int)
	for rows.Next() {
		var id string
		var created, last int64
		if err := rows.Scan(&id, &created, &last); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		index[id] = len(sessions)
		sessions = append(sessions, Session{
			ID:           id,
			Turns:        []Turn{},
			CreatedAt:    time.Unix(0, created),
			LastActivity: time.Unix(0, last),
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	turnRows, err := j.db.QueryContext(ctx, "SELECT session_id, data FROM turns ORDER BY session_id, seq")
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer turnRows.Close()

	for turnRows.Next() {
		var id, data string
		if err := turnRows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		i, ok := index[id]
		if !ok {
			continue
		}
		var turn Turn
		if err := json.Unmarshal([]byte(data), &turn); err != nil {
			return nil, fmt.Errorf("failed to decode turn of %s: %w", id, err)
		}
		sessions[i].Turns = append(sessions[i].Turns, turn)
	}

	return sessions, turnRows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
