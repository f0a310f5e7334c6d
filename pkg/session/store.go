package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/kosmo/internal/observability"
	"github.com/harun/kosmo/internal/tracing"
	"github.com/harun/kosmo/pkg/trace"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "kosmo/session"

// StoreConfig holds session store configuration
type StoreConfig struct {
	// Journal persists sessions across restarts. Nil keeps sessions in memory only.
	Journal Journal
	Logger  zerolog.Logger
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

type record struct {
	// mu serializes writers of one session; readers take it too so they never
	// observe a half-applied clear.
	mu      sync.Mutex
	session Session
}

// Store holds per-session ordered conversation state. Operations on distinct
// sessions never block each other; appends to one session are serialized.
type Store struct {
	records map[string]*record
	mu      sync.RWMutex
	journal Journal
	logger  zerolog.Logger
	now     func() time.Time
}

// NewStore creates a store and replays the journal, if any
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	observability.EnsureRegistered()

	s := &Store{
		records: make(map[string]*record),
		journal: cfg.Journal,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	if s.journal != nil {
		start := time.Now()
		sessions, err := s.journal.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load session journal: %w", err)
		}
		for _, sess := range sessions {
			if sess.Turns == nil {
				sess.Turns = []Turn{}
			}
			s.records[sess.ID] = &record{session: sess}
		}
		observability.RecordSessionLoad(time.Since(start))
		s.logger.Debug().Int("sessions", len(sessions)).Msg("Session journal replayed")
	}

	observability.SetActiveSessions(len(s.records))

	return s, nil
}

// Create starts a new empty session and returns its id
func (s *Store) Create(ctx context.Context) (string, error) {
	id := uuid.New().String()
	if _, err := s.create(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

// Ensure creates the session with the given id unless it already exists. It
// reports whether a session was created.
func (s *Store) Ensure(ctx context.Context, id string) (bool, error) {
	if err := ValidateID(id); err != nil {
		return false, err
	}
	if _, err := s.lookup(id); err == nil {
		return false, nil
	}
	return s.create(ctx, id)
}

func (s *Store) create(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(tracing.WithSessionID(ctx, id), tracerName, "session.create",
		attribute.String("session_id", id),
	)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; exists {
		tracing.EndSpan(span, nil)
		return false, nil
	}

	now := s.now()
	if s.journal != nil {
		if err := s.journal.Create(ctx, id, now); err != nil {
			err = fmt.Errorf("failed to persist session %s: %w", id, err)
			tracing.EndSpan(span, err)
			return false, err
		}
	}

	s.records[id] = &record{session: Session{
		ID:           id,
		Turns:        []Turn{},
		CreatedAt:    now,
		LastActivity: now,
	}}
	observability.SetActiveSessions(len(s.records))
	tracing.EndSpan(span, nil)

	logger.Debug().Msg("Session created")

	return true, nil
}

func (s *Store) lookup(id string) (*record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return rec, nil
}

// Resume returns the session's turns in append order
func (s *Store) Resume(ctx context.Context, id string) ([]Turn, error) {
	start := time.Now()
	defer func() {
		observability.RecordSessionLoad(time.Since(start))
	}()

	rec, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return cloneTurns(rec.session.Turns), nil
}

// Get returns a copy of the whole session
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Session{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.session.Clone(), nil
}

// Info returns the session's timestamps and turn count
func (s *Store) Info(ctx context.Context, id string) (Info, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return Info{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	return infoOf(rec.session), nil
}

// Append adds a completed turn to the end of the session
func (s *Store) Append(ctx context.Context, id string, turn Turn) error {
	ctx, span := tracing.StartSpan(tracing.WithSessionID(ctx, id), tracerName, "session.append",
		attribute.String("session_id", id),
		attribute.Int("steps", len(turn.Trace)),
	)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	defer func() {
		observability.RecordSessionSave(time.Since(start))
	}()

	rec, err := s.lookup(id)
	if err != nil {
		tracing.EndSpan(span, err)
		return err
	}

	turn = turn.Clone()
	if turn.Trace == nil {
		turn.Trace = []trace.Step{}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.Append(ctx, id, turn); err != nil {
			err = fmt.Errorf("failed to persist turn: %w", err)
			tracing.EndSpan(span, err)
			return err
		}
	}

	rec.session.Turns = append(rec.session.Turns, turn)
	rec.session.LastActivity = s.now()
	tracing.EndSpan(span, nil)

	logger.Debug().
		Int("turns", len(rec.session.Turns)).
		Int("steps", len(turn.Trace)).
		Msg("Turn appended")

	return nil
}

// Clear resets the session's turn list to empty. The session itself survives.
func (s *Store) Clear(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(tracing.WithSessionID(ctx, id), tracerName, "session.clear",
		attribute.String("session_id", id),
	)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	rec, err := s.lookup(id)
	if err != nil {
		tracing.EndSpan(span, err)
		return err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := s.now()
	if s.journal != nil {
		if err := s.journal.Clear(ctx, id, now); err != nil {
			err = fmt.Errorf("failed to persist clear: %w", err)
			tracing.EndSpan(span, err)
			return err
		}
	}

	cleared := len(rec.session.Turns)
	rec.session.Turns = []Turn{}
	rec.session.LastActivity = now
	tracing.EndSpan(span, nil)

	logger.Info().Int("cleared_turns", cleared).Msg("Session cleared")

	return nil
}

// List returns session ids ordered by creation time
func (s *Store) List(ctx context.Context) []string {
	infos := s.ListInfo(ctx)
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	return ids
}

// ListInfo returns session summaries ordered by creation time
func (s *Store) ListInfo(ctx context.Context) []Info {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, rec := range s.records {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	infos := make([]Info, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		infos = append(infos, infoOf(rec.session))
		rec.mu.Unlock()
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})

	return infos
}

// Close closes the journal, if any
func (s *Store) Close() error {
	if s.journal == nil {
		return nil
	}
	return s.journal.Close()
}

func infoOf(sess Session) Info {
	return Info{
		ID:           sess.ID,
		CreatedAt:    sess.CreatedAt,
		LastActivity: sess.LastActivity,
		TurnCount:    len(sess.Turns),
	}
}
