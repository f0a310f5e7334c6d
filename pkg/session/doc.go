// Package session holds per-thread conversation state keyed by session id.
//
// Invariants:
// - A session's turn list is append-only; Clear is the only operation that
//   removes turns, and it removes all of them.
// - Appends to one session are serialized; distinct sessions never contend.
// - Callers always receive copies, never the stored turns.
// - Sessions are never evicted automatically.
//
// A Journal (JSONL files or SQLite) may be layered behind the Store to keep
// sessions across restarts without changing the Store's contract.
//
// Usage:
//
//	store, _ := session.NewStore(ctx, session.StoreConfig{})
//	id, _ := store.Create(ctx)
//	_ = store.Append(ctx, id, session.Turn{Query: "hi", Answer: "hello", Status: session.TurnConcluded})
//	turns, _ := store.Resume(ctx, id)
//	_ = turns
package session
