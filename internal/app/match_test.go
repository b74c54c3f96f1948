package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/events"
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/mxe"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
)

// inlineNetwork evaluates each request as it is submitted and delivers the
// callback before Submit returns.
type inlineNetwork struct {
	x       *mxe.Executor
	h       gateway.CallbackHandler
	lastErr error
}

func (n *inlineNetwork) Submit(ctx context.Context, req gateway.Request) error {
	n.lastErr = n.h.HandleCallback(ctx, gateway.Callback{
		Offset: req.Offset, Kind: req.Kind, Accounts: req.Callback, Output: n.x.Execute(ctx, req),
	})
	return nil
}

type player struct {
	id   game.Principal
	keys cipher.KeyPair
	key  cipher.Key
	p1   bool
}

func newPlayer(t *testing.T, id game.Principal, p1 bool, mxeKey cipher.PublicKey) player {
	t.Helper()
	kp, err := cipher.GenerateKeyPair()
	require.NoError(t, err)
	key, err := cipher.SharedKey(kp.Private, mxeKey)
	require.NoError(t, err)
	return player{id: id, keys: kp, key: key, p1: p1}
}

func (p player) placement(t *testing.T, pl fleet.Placement) Move {
	t.Helper()
	nonce, err := cipher.NewNonce()
	require.NoError(t, err)
	blob, err := fleet.SealPlacementInput(p.key, nonce, p.p1, pl)
	require.NoError(t, err)
	return Move{InputNonce: nonce, Ciphertext: blob}
}

func (p player) guess(t *testing.T, c fleet.Coord) Move {
	t.Helper()
	nonce, err := cipher.NewNonce()
	require.NoError(t, err)
	blob, err := fleet.SealGuessInput(p.key, nonce, p.p1, c)
	require.NoError(t, err)
	return Move{InputNonce: nonce, Ciphertext: blob}
}

func rows(first uint8) fleet.Placement {
	var p fleet.Placement
	for i := range p {
		p[i] = fleet.Coord{Row: first + uint8(i/fleet.BoardSize), Col: uint8(i % fleet.BoardSize)}
	}
	return p
}

func TestFullMatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	mxeKeys, err := cipher.GenerateKeyPair()
	require.NoError(t, err)
	x, err := mxe.New(mxeKeys, st)
	require.NoError(t, err)

	net := &inlineNetwork{x: x}
	rec := &events.Recorder{}
	svc := New(st, net, WithNotifier(rec))
	net.h = svc

	a := newPlayer(t, alice, true, x.PublicKey())
	b := newPlayer(t, bob, false, x.PublicKey())

	r, err := svc.CreateGame(ctx, NewGame{Player1: a.id, Player2: b.id, Player1Key: a.keys.Public, Player2Key: b.keys.Public})
	require.NoError(t, err)
	require.NoError(t, net.lastErr)
	id := r.Game

	// a placement whose role flag lies is aborted inside the network
	_, err = svc.PlaceShips(ctx, id, b.id, a.placement(t, rows(5)))
	require.NoError(t, err)
	assert.ErrorIs(t, net.lastErr, game.ErrAbortedComputation)

	// overlapping cells abort too
	bad := rows(0)
	bad[1] = bad[0]
	_, err = svc.PlaceShips(ctx, id, a.id, a.placement(t, bad))
	require.NoError(t, err)
	assert.ErrorIs(t, net.lastErr, game.ErrAbortedComputation)

	_, err = svc.PlaceShips(ctx, id, a.id, a.placement(t, rows(0)))
	require.NoError(t, err)
	require.NoError(t, net.lastErr)
	_, err = svc.PlaceShips(ctx, id, b.id, b.placement(t, rows(5)))
	require.NoError(t, err)
	require.NoError(t, net.lastErr)

	snap, err := svc.Game(ctx, id)
	require.NoError(t, err)
	require.Equal(t, game.Player1Turn, snap.Record.State)

	targets := rows(5)
	misses := rows(8) // bob fires at empty water
	for i := 0; ; i++ {
		_, err = svc.TakeTurn(ctx, id, a.id, a.guess(t, targets[i]))
		require.NoError(t, err)
		require.NoError(t, net.lastErr)

		snap, err = svc.Game(ctx, id)
		require.NoError(t, err)
		assert.EqualValues(t, fleet.ShipCells-1-i, snap.Record.ShipsLeft[game.Player2])
		if snap.Record.State == game.Finished {
			break
		}
		require.Equal(t, game.Player2Turn, snap.Record.State)

		_, err = svc.TakeTurn(ctx, id, b.id, b.guess(t, misses[i]))
		require.NoError(t, err)
		require.NoError(t, net.lastErr)
	}

	assert.Equal(t, [2]uint8{17, 0}, snap.Record.ShipsLeft)
	w, ok := snap.Record.Winner()
	require.True(t, ok)
	assert.Equal(t, game.Player1, w)

	_, err = svc.TakeTurn(ctx, id, b.id, b.guess(t, fleet.Coord{}))
	assert.ErrorIs(t, err, game.ErrInvalidTurn)

	var hits int
	for _, e := range rec.Events() {
		if e.Type == events.TypeTurnResult && e.Attributes["hit"] == "true" {
			hits++
		}
	}
	assert.Equal(t, fleet.ShipCells, hits)
}

func TestMatchWithWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	mxeKeys, err := cipher.GenerateKeyPair()
	require.NoError(t, err)
	x, err := mxe.New(mxeKeys, st, mxe.WithWorkers(2))
	require.NoError(t, err)
	svc := New(st, x)
	go func() { _ = x.Run(ctx, svc) }()

	a := newPlayer(t, alice, true, x.PublicKey())
	b := newPlayer(t, bob, false, x.PublicKey())
	r, err := svc.CreateGame(ctx, NewGame{Player1: a.id, Player2: b.id, Player1Key: a.keys.Public, Player2Key: b.keys.Public})
	require.NoError(t, err)

	waitIdle := func(id uuid.UUID) *store.Snapshot {
		var (
			mu   sync.Mutex
			last *store.Snapshot
		)
		require.Eventually(t, func() bool {
			s, err := svc.Game(ctx, id)
			if err != nil || s.Pending != nil {
				return false
			}
			mu.Lock()
			last = s
			mu.Unlock()
			return true
		}, 10*time.Second, 5*time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return last
	}
	require.True(t, waitIdle(r.Game).Record.Initialized)

	_, err = svc.PlaceShips(ctx, r.Game, a.id, a.placement(t, rows(0)))
	require.NoError(t, err)
	waitIdle(r.Game)
	_, err = svc.PlaceShips(ctx, r.Game, b.id, b.placement(t, rows(5)))
	require.NoError(t, err)
	waitIdle(r.Game)

	_, err = svc.TakeTurn(ctx, r.Game, a.id, a.guess(t, fleet.Coord{Row: 6, Col: 0}))
	require.NoError(t, err)
	snap := waitIdle(r.Game)
	assert.Equal(t, game.Player2Turn, snap.Record.State)
	assert.EqualValues(t, 16, snap.Record.ShipsLeft[game.Player2])
}
