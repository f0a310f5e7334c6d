package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/kosmo/pkg/trace"
)

// ErrNotFound is matched by *NotFoundError
var ErrNotFound = errors.New("session not found")

// NotFoundError is returned for operations on an unknown session id
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TurnStatus is how the query of a turn ended
type TurnStatus string

const (
	TurnConcluded TurnStatus = "concluded"
	TurnAborted   TurnStatus = "aborted"
)

// Turn is one completed query: the user's text, the final answer and the trace
// that produced it
type Turn struct {
	QueryID     string       `json:"query_id"`
	Query       string       `json:"query"`
	Answer      string       `json:"answer"`
	Status      TurnStatus   `json:"status"`
	Truncated   bool         `json:"truncated,omitempty"`
	Trace       []trace.Step `json:"trace"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt time.Time    `json:"completed_at"`
}

// Clone returns a deep copy of the turn
func (t Turn) Clone() Turn {
	out := t
	out.Trace = trace.Clone(t.Trace)
	return out
}

// Session is a conversation context spanning multiple queries
type Session struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Clone returns a deep copy of the session
func (s Session) Clone() Session {
	out := s
	out.Turns = cloneTurns(s.Turns)
	return out
}

// Info summarizes a session without its turns
type Info struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	TurnCount    int       `json:"turn_count"`
}

func cloneTurns(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i := range turns {
		out[i] = turns[i].Clone()
	}
	return out
}

// ValidateID rejects ids that are empty or unsafe to use as file names
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(id) > 128 {
		return fmt.Errorf("session id cannot be longer than 128 characters")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(id, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}
