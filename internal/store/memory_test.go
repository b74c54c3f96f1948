package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
)

func testRecord(t *testing.T) *game.Record {
	t.Helper()
	rec, err := game.NewRecord(game.Principal{1}, game.Principal{2}, cipher.PublicKey{3}, cipher.PublicKey{4})
	require.NoError(t, err)
	return rec
}

func testPending(id uuid.UUID, offset uint64) *Pending {
	return &Pending{
		Offset:      offset,
		Game:        id,
		Kind:        gateway.KindInitialize,
		Role:        game.Player1,
		FleetNonce:  cipher.Nonce{9},
		Accounts:    []gateway.CallbackAccount{{Game: id, Writable: true}},
		SubmittedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestMemoryCreateGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()
	rec := testRecord(t)

	require.NoError(t, m.Create(ctx, id, rec, testPending(id, 1)))
	assert.ErrorIs(t, m.Create(ctx, id, rec, nil), game.ErrGameExists)
	assert.ErrorIs(t, m.Create(ctx, uuid.New(), rec, testPending(id, 1)), game.ErrDuplicateComputation)

	snap, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec, snap.Record)
	assert.Equal(t, testPending(id, 1), snap.Pending)

	p, err := m.Computation(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, id, p.Game)

	acct, err := m.Account(ctx, id)
	require.NoError(t, err)
	assert.Len(t, acct, game.RecordSize)

	_, err = m.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, game.ErrGameNotFound)
	_, err = m.Computation(ctx, 2)
	assert.ErrorIs(t, err, game.ErrUnknownComputation)
}

func TestMemoryUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()
	require.NoError(t, m.Create(ctx, id, testRecord(t), testPending(id, 1)))

	// a failing update writes nothing
	boom := errors.New("boom")
	err := m.Update(ctx, id, func(s *Snapshot) error {
		s.Record.ShipsLeft[0] = 1
		s.Pending = nil
		return boom
	})
	assert.ErrorIs(t, err, boom)
	snap, _ := m.Get(ctx, id)
	assert.EqualValues(t, 17, snap.Record.ShipsLeft[0])
	assert.NotNil(t, snap.Pending)

	// replace the pending entry
	require.NoError(t, m.Update(ctx, id, func(s *Snapshot) error {
		s.Record.Initialized = true
		s.Pending = testPending(id, 2)
		return nil
	}))
	_, err = m.Computation(ctx, 1)
	assert.ErrorIs(t, err, game.ErrUnknownComputation)
	_, err = m.Computation(ctx, 2)
	assert.NoError(t, err)
	snap, _ = m.Get(ctx, id)
	assert.True(t, snap.Record.Initialized)

	// offsets stay unique across games
	other := uuid.New()
	require.NoError(t, m.Create(ctx, other, testRecord(t), nil))
	err = m.Update(ctx, other, func(s *Snapshot) error {
		s.Pending = testPending(other, 2)
		return nil
	})
	assert.ErrorIs(t, err, game.ErrDuplicateComputation)

	// clear
	require.NoError(t, m.Update(ctx, id, func(s *Snapshot) error {
		s.Pending = nil
		return nil
	}))
	_, err = m.Computation(ctx, 2)
	assert.ErrorIs(t, err, game.ErrUnknownComputation)
}

func TestMemorySnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()
	require.NoError(t, m.Create(ctx, id, testRecord(t), testPending(id, 1)))

	snap, _ := m.Get(ctx, id)
	snap.Record.State = game.Finished
	snap.Pending.Accounts[0].Writable = false

	again, _ := m.Get(ctx, id)
	assert.Equal(t, game.PlacingShips, again.Record.State)
	assert.True(t, again.Pending.Accounts[0].Writable)
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()
	require.NoError(t, m.Create(ctx, id, testRecord(t), testPending(id, 1)))

	require.NoError(t, m.Delete(ctx, id))
	assert.ErrorIs(t, m.Delete(ctx, id), game.ErrGameNotFound)
	_, err := m.Computation(ctx, 1)
	assert.ErrorIs(t, err, game.ErrUnknownComputation)
	assert.ErrorIs(t, m.Update(ctx, id, func(*Snapshot) error { return nil }), game.ErrGameNotFound)
}

func TestMemoryUpdatesAreSerialized(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	id := uuid.New()
	require.NoError(t, m.Create(ctx, id, testRecord(t), nil))

	var wg sync.WaitGroup
	for i := 0; i < 17; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Update(ctx, id, func(s *Snapshot) error {
				s.Record.ShipsLeft[1]--
				return nil
			}))
		}()
	}
	wg.Wait()

	snap, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, snap.Record.ShipsLeft[1])
}
