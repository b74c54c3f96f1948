package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
)

type memEntry struct {
	mu      sync.Mutex
	record  []byte
	pending *Pending
	deleted bool
}

// Memory keeps encoded records in process. Updates to one game are
// serialized; different games do not block each other.
type Memory struct {
	// guards games and offsets; taken after an entry's lock, never before
	mu      sync.RWMutex
	games   map[uuid.UUID]*memEntry
	offsets map[uint64]uuid.UUID
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		games:   make(map[uuid.UUID]*memEntry),
		offsets: make(map[uint64]uuid.UUID),
	}
}

func (m *Memory) Create(_ context.Context, id uuid.UUID, rec *game.Record, p *Pending) error {
	b, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.games[id]; ok {
		return fmt.Errorf("%w: %s", game.ErrGameExists, id)
	}
	if p != nil {
		if _, ok := m.offsets[p.Offset]; ok {
			return fmt.Errorf("%w: %d", game.ErrDuplicateComputation, p.Offset)
		}
		m.offsets[p.Offset] = id
	}
	m.games[id] = &memEntry{record: b, pending: clonePending(p)}
	return nil
}

func (m *Memory) entry(id uuid.UUID) (*memEntry, error) {
	m.mu.RLock()
	e, ok := m.games[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", game.ErrGameNotFound, id)
	}
	return e, nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*Snapshot, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(id)
}

func (e *memEntry) snapshot(id uuid.UUID) (*Snapshot, error) {
	if e.deleted {
		return nil, fmt.Errorf("%w: %s", game.ErrGameNotFound, id)
	}
	rec, err := game.Decode(e.record)
	if err != nil {
		return nil, err
	}
	return &Snapshot{ID: id, Record: rec, Pending: clonePending(e.pending)}, nil
}

func (m *Memory) Update(_ context.Context, id uuid.UUID, fn func(*Snapshot) error) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.snapshot(id)
	if err != nil {
		return err
	}
	if err := fn(snap); err != nil {
		return err
	}
	b, err := snap.Record.MarshalBinary()
	if err != nil {
		return err
	}

	removed, added := pendingChanged(e.pending, snap.Pending)
	m.mu.Lock()
	defer m.mu.Unlock()
	if added {
		if owner, ok := m.offsets[snap.Pending.Offset]; ok && owner != id {
			return fmt.Errorf("%w: %d", game.ErrDuplicateComputation, snap.Pending.Offset)
		}
	}
	if removed {
		delete(m.offsets, e.pending.Offset)
	}
	if added {
		m.offsets[snap.Pending.Offset] = id
	}
	e.record = b
	e.pending = clonePending(snap.Pending)
	return nil
}

func (m *Memory) Delete(_ context.Context, id uuid.UUID) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return fmt.Errorf("%w: %s", game.ErrGameNotFound, id)
	}
	e.deleted = true

	m.mu.Lock()
	defer m.mu.Unlock()
	if e.pending != nil {
		delete(m.offsets, e.pending.Offset)
	}
	delete(m.games, id)
	return nil
}

func (m *Memory) Computation(_ context.Context, offset uint64) (*Pending, error) {
	m.mu.RLock()
	id, ok := m.offsets[offset]
	e := m.games[id]
	m.mu.RUnlock()
	if !ok || e == nil {
		return nil, fmt.Errorf("%w: %d", game.ErrUnknownComputation, offset)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil || e.pending.Offset != offset {
		return nil, fmt.Errorf("%w: %d", game.ErrUnknownComputation, offset)
	}
	return clonePending(e.pending), nil
}

func (m *Memory) Account(_ context.Context, id uuid.UUID) ([]byte, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]byte(nil), e.record...), nil
}

func (m *Memory) Close() error { return nil }

func clonePending(p *Pending) *Pending {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Accounts = append([]gateway.CallbackAccount(nil), p.Accounts...)
	return &cp
}
