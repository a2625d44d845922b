package state

import (
	"errors"
	"fmt"
	"sync"

	"refchain/core/events"
	"refchain/storage"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("state: read-only view")

// Store serialises units of work against a database. Every Update runs inside a
// single storage transaction: either all of its writes and journaled events
// become visible, or none do.
type Store struct {
	db      storage.Database
	mu      sync.Mutex
	emitter events.Emitter
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db, emitter: events.NoopEmitter{}}
}

// SetEmitter configures where committed events are published. Passing nil
// resets the emitter to a no-op implementation.
func (s *Store) SetEmitter(emitter events.Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// Update runs fn against a transactional manager. A non-nil error from fn (or
// from the commit) discards every write fn made and drops its events.
func (s *Store) Update(fn func(*Manager) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("state: begin: %w", err)
	}
	defer tx.Discard()

	mgr := NewManager(tx)
	if err := fn(mgr); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	for _, evt := range mgr.pending {
		s.emitter.Emit(evt)
	}
	return nil
}

// View runs fn against the committed state. Writes are rejected.
func (s *Store) View(fn func(*Manager) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store not configured")
	}
	return fn(NewManager(readOnly{s.db}))
}

// Reader returns a read-only manager over committed state. Unlike View it may
// be retained, which lets lazy cursors read as they advance.
func (s *Store) Reader() *Manager {
	return NewManager(readOnly{s.db})
}

type readOnly struct {
	kv storage.KV
}

func (r readOnly) Get(key []byte) ([]byte, error) { return r.kv.Get(key) }
func (r readOnly) Has(key []byte) (bool, error)   { return r.kv.Has(key) }
func (readOnly) Put([]byte, []byte) error         { return ErrReadOnly }
func (readOnly) Delete([]byte) error              { return ErrReadOnly }
