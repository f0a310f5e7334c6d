package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func journals(t *testing.T) map[string]func() Journal {
	dir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	return map[string]func() Journal{
		"jsonl": func() Journal {
			j, err := NewJSONLJournal(dir, zerolog.Nop())
			require.NoError(t, err)
			return j
		},
		"sqlite": func() Journal {
			j, err := NewSQLiteJournal(dbPath)
			require.NoError(t, err)
			return j
		},
	}
}

func TestJournal_SurvivesRestart(t *testing.T) {
	for name, open := range journals(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			store, err := NewStore(ctx, StoreConfig{Journal: open(), Logger: zerolog.Nop()})
			require.NoError(t, err)

			first, err := store.Create(ctx)
			require.NoError(t, err)
			second, err := store.Create(ctx)
			require.NoError(t, err)

			require.NoError(t, store.Append(ctx, first, testTurn("a")))
			require.NoError(t, store.Append(ctx, first, testTurn("b")))
			require.NoError(t, store.Append(ctx, second, testTurn("old")))
			require.NoError(t, store.Clear(ctx, second))
			require.NoError(t, store.Append(ctx, second, testTurn("new")))
			require.NoError(t, store.Close())

			reopened, err := NewStore(ctx, StoreConfig{Journal: open(), Logger: zerolog.Nop()})
			require.NoError(t, err)
			defer reopened.Close()

			assert.ElementsMatch(t, []string{first, second}, reopened.List(ctx))

			turns, err := reopened.Resume(ctx, first)
			require.NoError(t, err)
			require.Len(t, turns, 2)
			assert.Equal(t, "a", turns[0].Query)
			assert.Equal(t, "b", turns[1].Query)
			require.Len(t, turns[0].Trace, 1)
			assert.Equal(t, "think", turns[0].Trace[0].Thought)

			turns, err = reopened.Resume(ctx, second)
			require.NoError(t, err)
			require.Len(t, turns, 1)
			assert.Equal(t, "new", turns[0].Query)
		})
	}
}

func TestJSONLJournal_SkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	j, err := NewJSONLJournal(dir, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	store, err := NewStore(ctx, StoreConfig{Journal: j, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = store.Ensure(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "s1", testTurn("a")))

	f, err := os.OpenFile(filepath.Join(dir, "s1.jsonl"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	sessions, err := j.Load(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Turns, 1)
	assert.False(t, sessions[0].CreatedAt.IsZero())
}

func TestNewJournalErrors(t *testing.T) {
	_, err := NewJSONLJournal("", zerolog.Nop())
	assert.Error(t, err)

	_, err = NewSQLiteJournal("")
	assert.Error(t, err)
}
