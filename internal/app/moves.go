package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
)

// Move is a player's sealed input. The coordinator never sees the plaintext.
type Move struct {
	InputNonce cipher.Nonce
	Ciphertext []byte
}

func (m Move) check(size int) error {
	if m.InputNonce.IsZero() {
		return fmt.Errorf("%w: zero input nonce", game.ErrInvalidMove)
	}
	if len(m.Ciphertext) != size {
		return fmt.Errorf("%w: ciphertext is %d bytes, want %d", game.ErrInvalidMove, len(m.Ciphertext), size)
	}
	return nil
}

// PlaceShips forwards caller's sealed 17-cell placement.
func (s *Service) PlaceShips(ctx context.Context, id uuid.UUID, caller game.Principal, m Move) (Receipt, error) {
	if err := m.check(fleet.PlacementInputSize); err != nil {
		return Receipt{}, err
	}
	return s.enqueue(ctx, id, gateway.KindPlaceShips, func(rec *game.Record) (game.Role, []gateway.Argument, error) {
		role, err := rec.AuthorizePlacement(caller)
		if err != nil {
			return 0, nil, err
		}
		return role, moveArgs(id, rec, role, m), nil
	})
}

// TakeTurn forwards caller's sealed guess.
func (s *Service) TakeTurn(ctx context.Context, id uuid.UUID, caller game.Principal, m Move) (Receipt, error) {
	if err := m.check(fleet.GuessInputSize); err != nil {
		return Receipt{}, err
	}
	return s.enqueue(ctx, id, gateway.KindTakeTurn, func(rec *game.Record) (game.Role, []gateway.Argument, error) {
		role, err := rec.AuthorizeTurn(caller)
		if err != nil {
			return 0, nil, err
		}
		return role, moveArgs(id, rec, role, m), nil
	})
}

func moveArgs(id uuid.UUID, rec *game.Record, role game.Role, m Move) []gateway.Argument {
	return gateway.MoveArgs{
		PlayerKey:  rec.PlayerKey(role),
		InputNonce: m.InputNonce,
		Ciphertext: m.Ciphertext,
		FleetNonce: rec.FleetNonce,
		Fleet:      game.FleetRef(id),
		IsPlayer1:  role.IsPlayer1(),
	}.Arguments()
}

type prepareFunc func(rec *game.Record) (game.Role, []gateway.Argument, error)

// enqueue runs the guard, registers the computation as the game's single
// in-flight one, commits, and only then submits. A refused submit releases
// the registration again.
func (s *Service) enqueue(ctx context.Context, id uuid.UUID, kind gateway.Kind, prepare prepareFunc) (Receipt, error) {
	var req gateway.Request
	for attempt := 0; ; attempt++ {
		offset, err := s.offsets()
		if err != nil {
			return Receipt{}, err
		}
		err = s.store.Update(ctx, id, func(snap *store.Snapshot) error {
			role, args, err := prepare(snap.Record)
			if err != nil {
				return err
			}
			if snap.Pending != nil {
				return fmt.Errorf("%w: %s at offset %d", game.ErrComputationPending, snap.Pending.Kind, snap.Pending.Offset)
			}
			snap.Pending = s.pending(id, offset, kind, role, snap.Record.FleetNonce)
			req = request(snap.Pending, args)
			return nil
		})
		if errors.Is(err, game.ErrDuplicateComputation) && attempt+1 < offsetAttempts {
			continue
		}
		if err != nil {
			return Receipt{}, err
		}
		break
	}

	if err := s.network.Submit(ctx, req); err != nil {
		s.release(context.WithoutCancel(ctx), id, req.Offset)
		return Receipt{}, fmt.Errorf("submit %s: %w", kind, err)
	}
	s.log.Info().Stringer("game", id).Uint64("offset", req.Offset).Stringer("kind", kind).Msg("computation submitted")
	return Receipt{Game: id, Offset: req.Offset, Kind: kind}, nil
}

func (s *Service) release(ctx context.Context, id uuid.UUID, offset uint64) {
	err := s.store.Update(ctx, id, func(snap *store.Snapshot) error {
		if snap.Pending != nil && snap.Pending.Offset == offset {
			snap.Pending = nil
		}
		return nil
	})
	if err != nil {
		s.log.Error().Err(err).Stringer("game", id).Uint64("offset", offset).Msg("release refused computation")
	}
}
