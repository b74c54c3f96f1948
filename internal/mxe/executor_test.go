package mxe

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
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/zk"
)

type accounts struct {
	mu sync.Mutex
	m  map[uuid.UUID][]byte
}

func (a *accounts) Account(_ context.Context, id uuid.UUID) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.m[id]
	if !ok {
		return nil, game.ErrGameNotFound
	}
	return b, nil
}

type harness struct {
	t      *testing.T
	x      *Executor
	accts  *accounts
	id     uuid.UUID
	rec    *game.Record
	p1, p2 cipher.KeyPair
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mxeKeys, err := cipher.GenerateKeyPair()
	require.NoError(t, err)
	p1, err := cipher.GenerateKeyPair()
	require.NoError(t, err)
	p2, err := cipher.GenerateKeyPair()
	require.NoError(t, err)

	h := &harness{t: t, accts: &accounts{m: map[uuid.UUID][]byte{}}, id: uuid.New(), p1: p1, p2: p2}
	h.x, err = New(mxeKeys, h.accts, WithQueueSize(4), WithWorkers(1))
	require.NoError(t, err)

	h.rec, err = game.NewRecord(game.Principal{1}, game.Principal{2}, p1.Public, p2.Public)
	require.NoError(t, err)

	nonce, err := cipher.NewNonce()
	require.NoError(t, err)
	out := h.x.Execute(context.Background(), gateway.Request{
		Kind: gateway.KindInitialize, Offset: 1, Args: gateway.InitializeArgs(nonce),
	})
	res, err := gateway.DecodeFleetResult(out)
	require.NoError(t, err)
	assert.Equal(t, nonce, res.Nonce)
	require.NoError(t, h.rec.ApplyInitialize(res.Nonce, res.Fleet))
	h.store()
	return h
}

func (h *harness) store() {
	b, err := h.rec.MarshalBinary()
	require.NoError(h.t, err)
	h.accts.mu.Lock()
	h.accts.m[h.id] = b
	h.accts.mu.Unlock()
}

func (h *harness) fleet() fleet.Fleet {
	f, err := fleet.Open(h.x.env.StateKey, h.rec.FleetNonce, h.rec.Fleet)
	require.NoError(h.t, err)
	return f
}

func (h *harness) move(kind gateway.Kind, player cipher.KeyPair, isPlayer1 bool, blob []byte, nonce cipher.Nonce) gateway.Request {
	mv := gateway.MoveArgs{
		PlayerKey:  player.Public,
		InputNonce: nonce,
		Ciphertext: blob,
		FleetNonce: h.rec.FleetNonce,
		Fleet:      game.FleetRef(h.id),
		IsPlayer1:  isPlayer1,
	}
	return gateway.Request{Kind: kind, Offset: 2, Args: mv.Arguments()}
}

func (h *harness) placeRequest(player cipher.KeyPair, claimP1, flagP1 bool, p fleet.Placement) gateway.Request {
	key, err := cipher.SharedKey(player.Private, h.x.PublicKey())
	require.NoError(h.t, err)
	nonce, _ := cipher.NewNonce()
	blob, err := fleet.SealPlacementInput(key, nonce, claimP1, p)
	require.NoError(h.t, err)
	return h.move(gateway.KindPlaceShips, player, flagP1, blob, nonce)
}

func (h *harness) guessRequest(player cipher.KeyPair, isPlayer1 bool, c fleet.Coord) gateway.Request {
	key, err := cipher.SharedKey(player.Private, h.x.PublicKey())
	require.NoError(h.t, err)
	nonce, _ := cipher.NewNonce()
	blob, err := fleet.SealGuessInput(key, nonce, isPlayer1, c)
	require.NoError(h.t, err)
	return h.move(gateway.KindTakeTurn, player, isPlayer1, blob, nonce)
}

func (h *harness) place(player cipher.KeyPair, isPlayer1 bool, p fleet.Placement) {
	out := h.x.Execute(context.Background(), h.placeRequest(player, isPlayer1, isPlayer1, p))
	res, err := gateway.DecodeFleetResult(out)
	require.NoError(h.t, err)
	assert.NotEqual(h.t, h.rec.FleetNonce, res.Nonce)
	_, err = h.rec.ApplyPlacement(game.RoleFromBool(isPlayer1), res.Nonce, res.Fleet)
	require.NoError(h.t, err)
	h.store()
}

func rowPlacement(row uint8) fleet.Placement {
	var p fleet.Placement
	for i := range p {
		p[i] = fleet.Coord{Row: row + uint8(i/fleet.BoardSize), Col: uint8(i % fleet.BoardSize)}
	}
	return p
}

func TestInitializeFleet(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, fleet.Initialize(), h.fleet())

	out := h.x.Execute(context.Background(), gateway.Request{
		Kind: gateway.KindInitialize, Args: gateway.InitializeArgs(cipher.Nonce{}),
	})
	assert.True(t, out.Aborted)
}

func TestPlaceShips(t *testing.T) {
	h := newHarness(t)
	h.place(h.p1, true, rowPlacement(0))
	h.place(h.p2, false, rowPlacement(5))

	f := h.fleet()
	assert.Equal(t, rowPlacement(0), f.Player1)
	assert.Equal(t, rowPlacement(5), f.Player2)
	assert.Equal(t, game.Player1Turn, h.rec.State)
}

func TestPlaceShipsAborts(t *testing.T) {
	h := newHarness(t)
	dup := rowPlacement(0)
	dup[3] = dup[4]

	tests := []struct {
		name string
		req  gateway.Request
	}{
		{"blob claims player 1, flag says player 2", h.placeRequest(h.p2, true, false, rowPlacement(0))},
		{"blob claims player 2, flag says player 1", h.placeRequest(h.p2, false, true, rowPlacement(0))},
		{"overlapping cells", h.placeRequest(h.p1, true, true, dup)},
		{"wrong player key", func() gateway.Request {
			r := h.placeRequest(h.p1, true, true, rowPlacement(0))
			r.Args[0] = gateway.Pubkey(h.p2.Public)
			return r
		}()},
		{"bad account region", func() gateway.Request {
			r := h.placeRequest(h.p1, true, true, rowPlacement(0))
			r.Args[4].Account.Offset += 1
			return r
		}()},
		{"stale fleet nonce", func() gateway.Request {
			r := h.placeRequest(h.p1, true, true, rowPlacement(0))
			r.Args[3] = gateway.PlaintextU128(cipher.Nonce{1})
			return r
		}()},
		{"argument shape", gateway.Request{Kind: gateway.KindPlaceShips, Args: gateway.InitializeArgs(cipher.Nonce{1})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := h.x.Execute(context.Background(), tt.req)
			assert.True(t, out.Aborted)
			_, err := gateway.DecodeFleetResult(out)
			assert.ErrorIs(t, err, gateway.ErrAbortedComputation)
		})
	}
}

func TestPlacementErrorsAreTyped(t *testing.T) {
	h := newHarness(t)
	dup := rowPlacement(0)
	dup[0] = dup[1]

	_, err := PlaceShips(context.Background(), h.x.env, h.placeRequest(h.p1, true, true, dup).Args)
	assert.ErrorIs(t, err, zk.ErrInvalidPlacement)

	_, err = PlaceShips(context.Background(), h.x.env, h.placeRequest(h.p1, false, true, rowPlacement(0)).Args)
	assert.ErrorIs(t, err, ErrRoleMismatch)
}

func TestTakeTurn(t *testing.T) {
	h := newHarness(t)
	h.place(h.p1, true, rowPlacement(0))
	h.place(h.p2, false, rowPlacement(5))

	// player 1 hits (5,3)
	res, err := gateway.DecodeTurnResult(h.x.Execute(context.Background(),
		h.guessRequest(h.p1, true, fleet.Coord{Row: 5, Col: 3})))
	require.NoError(t, err)
	assert.True(t, res.WasHit)
	require.NoError(t, h.rec.ApplyTurn(game.Player1, res.WasHit, res.Nonce, res.Fleet))
	h.store()
	assert.Equal(t, uint8(16), h.rec.ShipsLeft[game.Player2])
	p2 := h.fleet().Player2
	assert.Contains(t, p2[:], fleet.Destroyed)

	// player 2 misses
	res, err = gateway.DecodeTurnResult(h.x.Execute(context.Background(),
		h.guessRequest(h.p2, false, fleet.Coord{Row: 9, Col: 9})))
	require.NoError(t, err)
	assert.False(t, res.WasHit)

	// sentinel guesses never reach the fleet
	_, err = TakeTurn(context.Background(), h.x.env,
		h.guessRequest(h.p1, true, fleet.Destroyed).Args)
	assert.ErrorIs(t, err, ErrGuessOffBoard)
}

type recorder struct {
	mu  sync.Mutex
	got []gateway.Callback
	err error
	ch  chan struct{}
}

func (r *recorder) HandleCallback(_ context.Context, cb gateway.Callback) error {
	r.mu.Lock()
	r.got = append(r.got, cb)
	r.mu.Unlock()
	r.ch <- struct{}{}
	return r.err
}

func TestRunDeliversCallbacks(t *testing.T) {
	h := newHarness(t)
	rec := &recorder{ch: make(chan struct{}, 4), err: errors.New("rejected is logged, not fatal")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.x.Run(ctx, rec) }()

	accts := []gateway.CallbackAccount{{Game: h.id, Writable: true}}
	require.NoError(t, h.x.Submit(ctx, gateway.Request{
		Kind: gateway.KindInitialize, Offset: 10, Args: gateway.InitializeArgs(cipher.Nonce{7}), Callback: accts,
	}))
	require.NoError(t, h.x.Submit(ctx, gateway.Request{
		Kind: gateway.KindInitialize, Offset: 11, Args: nil, Callback: accts,
	}))

	for i := 0; i < 2; i++ {
		select {
		case <-rec.ch:
		case <-time.After(5 * time.Second):
			t.Fatal("callback not delivered")
		}
	}
	cancel()
	require.NoError(t, <-done)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	byOffset := map[uint64]gateway.Callback{}
	for _, cb := range rec.got {
		byOffset[cb.Offset] = cb
	}
	assert.False(t, byOffset[10].Output.Aborted)
	assert.Equal(t, accts, byOffset[10].Accounts)
	assert.True(t, byOffset[11].Output.Aborted)
}

func TestSubmitRejects(t *testing.T) {
	mxeKeys, err := cipher.GenerateKeyPair()
	require.NoError(t, err)
	x, err := New(mxeKeys, &accounts{}, WithQueueSize(1))
	require.NoError(t, err)
	ctx := context.Background()

	err = x.Submit(ctx, gateway.Request{Kind: gateway.Kind(99)})
	assert.ErrorIs(t, err, gateway.ErrUnknownKind)

	req := gateway.Request{Kind: gateway.KindInitialize, Args: gateway.InitializeArgs(cipher.Nonce{1})}
	require.NoError(t, x.Submit(ctx, req))
	assert.ErrorIs(t, x.Submit(ctx, req), ErrQueueFull)
}

func TestWithDefinition(t *testing.T) {
	mxeKeys, err := cipher.GenerateKeyPair()
	require.NoError(t, err)
	x, err := New(mxeKeys, &accounts{}, WithDefinition(gateway.KindTakeTurn,
		func(context.Context, *Env, []gateway.Argument) ([]byte, error) { return []byte{1}, nil }))
	require.NoError(t, err)

	out := x.Execute(context.Background(), gateway.Request{Kind: gateway.KindTakeTurn})
	assert.Equal(t, []byte{1}, out.Bytes)
}

func TestAccountRegionMustBeTheFleet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.placeRequest(h.p1, true, true, rowPlacement(0))
	mv, err := gateway.ParseMoveArgs(req.Args)
	require.NoError(t, err)

	shifted := mv
	shifted.Fleet.Offset -= cipher.NonceSize
	_, err = PlaceShips(ctx, h.x.env, shifted.Arguments())
	assert.ErrorIs(t, err, ErrAccountRegion)

	// a record of the wrong size is refused even when the reference is right
	h.accts.mu.Lock()
	h.accts.m[h.id] = h.accts.m[h.id][:game.RecordSize-1]
	h.accts.mu.Unlock()
	_, err = PlaceShips(ctx, h.x.env, mv.Arguments())
	assert.ErrorIs(t, err, ErrAccountRegion)
}
