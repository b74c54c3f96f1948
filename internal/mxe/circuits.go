package mxe

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/zk"
)

var (
	ErrRoleMismatch  = errors.New("encrypted role flag does not match the caller")
	ErrAccountRegion = errors.New("account reference does not point at the record's fleet")
	ErrZeroNonce     = errors.New("nonce must not be zero")
	ErrGuessOffBoard = errors.New("guess is off the board")
)

// InitializeFleet seals an all-unset fleet under the given nonce.
func InitializeFleet(_ context.Context, env *Env, args []gateway.Argument) ([]byte, error) {
	nonce, err := gateway.ParseInitializeArgs(args)
	if err != nil {
		return nil, err
	}
	if nonce.IsZero() {
		return nil, ErrZeroNonce
	}
	enc, err := fleet.Seal(env.StateKey, nonce, fleet.Initialize())
	if err != nil {
		return nil, err
	}
	return gateway.EncodeFleetResult(gateway.FleetResult{Nonce: nonce, Fleet: enc}), nil
}

// PlaceShips replaces the caller's 17 cells after checking the placement is
// on the board and has no overlapping cells.
func PlaceShips(ctx context.Context, env *Env, args []gateway.Argument) ([]byte, error) {
	mv, err := gateway.ParseMoveArgs(args)
	if err != nil {
		return nil, err
	}
	key, err := cipher.SharedKey(env.Keys.Private, mv.PlayerKey)
	if err != nil {
		return nil, err
	}
	isPlayer1, placement, err := fleet.OpenPlacementInput(key, mv.InputNonce, mv.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open placement: %w", err)
	}
	if isPlayer1 != mv.IsPlayer1 {
		return nil, ErrRoleMismatch
	}
	if err := zk.CheckPlacement(placement); err != nil {
		return nil, err
	}

	current, err := loadFleet(ctx, env, mv)
	if err != nil {
		return nil, err
	}
	res, err := sealFleet(env, mv.FleetNonce, fleet.Place(isPlayer1, placement, current))
	if err != nil {
		return nil, err
	}
	return gateway.EncodeFleetResult(res), nil
}

// TakeTurn fires at the opponent's fleet. Only the hit flag leaves in clear.
func TakeTurn(ctx context.Context, env *Env, args []gateway.Argument) ([]byte, error) {
	mv, err := gateway.ParseMoveArgs(args)
	if err != nil {
		return nil, err
	}
	key, err := cipher.SharedKey(env.Keys.Private, mv.PlayerKey)
	if err != nil {
		return nil, err
	}
	isPlayer1, guess, err := fleet.OpenGuessInput(key, mv.InputNonce, mv.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open guess: %w", err)
	}
	if isPlayer1 != mv.IsPlayer1 {
		return nil, ErrRoleMismatch
	}
	// sentinels must never be guessable
	if !guess.InBounds() {
		return nil, fmt.Errorf("%w: %s", ErrGuessOffBoard, guess)
	}

	current, err := loadFleet(ctx, env, mv)
	if err != nil {
		return nil, err
	}
	next, hit := fleet.TakeTurn(isPlayer1, guess, current)
	res, err := sealFleet(env, mv.FleetNonce, next)
	if err != nil {
		return nil, err
	}
	return gateway.EncodeTurnResult(gateway.TurnResult{FleetResult: res, WasHit: hit}), nil
}

func loadFleet(ctx context.Context, env *Env, mv gateway.MoveArgs) (fleet.Fleet, error) {
	if ref := game.FleetRef(mv.Fleet.Game); mv.Fleet != ref {
		return fleet.Fleet{}, fmt.Errorf("%w: [%d+%d], fleet is at [%d+%d]",
			ErrAccountRegion, mv.Fleet.Offset, mv.Fleet.Length, ref.Offset, ref.Length)
	}
	acct, err := env.Accounts.Account(ctx, mv.Fleet.Game)
	if err != nil {
		return fleet.Fleet{}, err
	}
	region, err := game.FleetRegion(acct)
	if err != nil {
		return fleet.Fleet{}, fmt.Errorf("%w: %v", ErrAccountRegion, err)
	}
	enc, err := fleet.EncryptedFromBytes(region)
	if err != nil {
		return fleet.Fleet{}, err
	}
	return fleet.Open(env.StateKey, mv.FleetNonce, enc)
}

// sealFleet re-encrypts under a fresh nonce, never the previous one.
func sealFleet(env *Env, prev cipher.Nonce, f fleet.Fleet) (gateway.FleetResult, error) {
	nonce, err := cipher.NewNonce()
	if err != nil {
		return gateway.FleetResult{}, err
	}
	for nonce == prev || nonce.IsZero() {
		if nonce, err = cipher.NewNonce(); err != nil {
			return gateway.FleetResult{}, err
		}
	}
	enc, err := fleet.Seal(env.StateKey, nonce, f)
	if err != nil {
		return gateway.FleetResult{}, err
	}
	return gateway.FleetResult{Nonce: nonce, Fleet: enc}, nil
}
