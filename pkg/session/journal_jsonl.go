package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const jsonlExt = ".jsonl"

type entryType string

const (
	entryCreate entryType = "create"
	entryTurn   entryType = "turn"
	entryClear  entryType = "clear"
)

// JournalEntry is one line of a session journal file
type JournalEntry struct {
	Type      entryType `json:"type"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
	Turn      *Turn     `json:"turn,omitempty"`
}

// JSONLJournal stores each session as an append-only JSONL file
type JSONLJournal struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewJSONLJournal creates the journal directory if needed
func NewJSONLJournal(dir string, logger zerolog.Logger) (*JSONLJournal, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	return &JSONLJournal{dir: dir, logger: logger}, nil
}

func (j *JSONLJournal) path(id string) string {
	return filepath.Join(j.dir, id+jsonlExt)
}

func (j *JSONLJournal) write(id string, entry JournalEntry) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	file, err := os.OpenFile(j.path(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	return nil
}

func (j *JSONLJournal) Create(ctx context.Context, id string, createdAt time.Time) error {
	return j.write(id, JournalEntry{Type: entryCreate, SessionID: id, Timestamp: createdAt})
}

func (j *JSONLJournal) Append(ctx context.Context, id string, turn Turn) error {
	ts := turn.CompletedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return j.write(id, JournalEntry{Type: entryTurn, SessionID: id, Timestamp: ts, Turn: &turn})
}

func (j *JSONLJournal) Clear(ctx context.Context, id string, at time.Time) error {
	return j.write(id, JournalEntry{Type: entryClear, SessionID: id, Timestamp: at})
}

// Load replays every journal file in the directory
func (j *JSONLJournal) Load(ctx context.Context) ([]Session, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	var sessions []Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), jsonlExt) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := strings.TrimSuffix(entry.Name(), jsonlExt)
		sess, err := j.replay(id)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	return sessions, nil
}

func (j *JSONLJournal) replay(id string) (Session, error) {
	file, err := os.Open(j.path(id))
	if err != nil {
		return Session{}, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	sess := Session{ID: id, Turns: []Turn{}}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry JournalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			j.logger.Warn().
				Str("session_id", id).
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse line, skipping")
			continue
		}

		switch entry.Type {
		case entryCreate:
			if sess.CreatedAt.IsZero() {
				sess.CreatedAt = entry.Timestamp
			}
		case entryTurn:
			if entry.Turn == nil {
				j.logger.Warn().Str("session_id", id).Int("line", lineNum).Msg("Turn entry without turn, skipping")
				continue
			}
			sess.Turns = append(sess.Turns, *entry.Turn)
		case entryClear:
			sess.Turns = []Turn{}
		default:
			j.logger.Warn().Str("session_id", id).Int("line", lineNum).Str("type", string(entry.Type)).Msg("Unknown entry type, skipping")
			continue
		}

		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = entry.Timestamp
		}
		if entry.Timestamp.After(sess.LastActivity) {
			sess.LastActivity = entry.Timestamp
		}
	}

	if err := scanner.Err(); err != nil {
		return Session{}, fmt.Errorf("failed to read session file: %w", err)
	}

	return sess, nil
}

func (j *JSONLJournal) Close() error {
	return nil
}
