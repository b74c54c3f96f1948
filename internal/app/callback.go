package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mahhheshh/confidential-battleship-game/internal/events"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
)

// HandleCallback consumes the result of an in-flight computation. The pending
// entry is cleared whatever the outcome; the record changes only when the
// result decodes and applies cleanly.
func (s *Service) HandleCallback(ctx context.Context, cb gateway.Callback) error {
	p, err := s.store.Computation(ctx, cb.Offset)
	if err != nil {
		return err
	}
	if !cb.Allows(p.Game) {
		return fmt.Errorf("%w: %s", game.ErrCallbackAccount, p.Game)
	}
	if cb.Kind != p.Kind {
		return fmt.Errorf("%w: callback kind %s for %s computation", gateway.ErrMalformedResult, cb.Kind, p.Kind)
	}

	var (
		resultErr error
		notes     []events.Event
	)
	err = s.store.Update(ctx, p.Game, func(snap *store.Snapshot) error {
		pend := snap.Pending
		if pend == nil || pend.Offset != cb.Offset {
			return fmt.Errorf("%w: %d", game.ErrUnknownComputation, cb.Offset)
		}
		snap.Pending = nil

		if snap.Record.FleetNonce != pend.FleetNonce {
			resultErr = fmt.Errorf("%w: fleet nonce moved since submission", game.ErrStaleComputation)
			return nil
		}
		next := snap.Record.Clone()
		notes, resultErr = apply(snap.ID, next, pend, cb.Output)
		if resultErr == nil {
			snap.Record = next
		}
		return nil
	})
	if err != nil {
		return err
	}

	log := s.log.With().Stringer("game", p.Game).Uint64("offset", cb.Offset).Stringer("kind", p.Kind).Logger()
	if resultErr != nil {
		reason := "rejected"
		if errors.Is(resultErr, gateway.ErrAbortedComputation) {
			reason = "aborted"
		}
		log.Warn().Err(resultErr).Msg("computation result discarded")
		s.notify.Notify(events.ComputationAborted(p.Game, p.Kind.String(), cb.Offset, reason))
		return resultErr
	}
	log.Info().Msg("computation applied")
	for _, e := range notes {
		s.notify.Notify(e)
	}
	return nil
}

// apply decodes out for the pending computation and applies it to rec.
func apply(id uuid.UUID, rec *game.Record, p *store.Pending, out gateway.Output) ([]events.Event, error) {
	switch p.Kind {
	case gateway.KindInitialize:
		res, err := gateway.DecodeFleetResult(out)
		if err != nil {
			return nil, err
		}
		if err := rec.ApplyInitialize(res.Nonce, res.Fleet); err != nil {
			return nil, fmt.Errorf("%w: %v", game.ErrStaleComputation, err)
		}
		return nil, nil

	case gateway.KindPlaceShips:
		res, err := gateway.DecodeFleetResult(out)
		if err != nil {
			return nil, err
		}
		started, err := rec.ApplyPlacement(p.Role, res.Nonce, res.Fleet)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", game.ErrStaleComputation, err)
		}
		notes := []events.Event{events.ShipsPlaced(id, p.Role)}
		if started {
			notes = append(notes, events.GameStarted(id))
		}
		return notes, nil

	case gateway.KindTakeTurn:
		res, err := gateway.DecodeTurnResult(out)
		if err != nil {
			return nil, err
		}
		if err := rec.ApplyTurn(p.Role, res.WasHit, res.Nonce, res.Fleet); err != nil {
			return nil, fmt.Errorf("%w: %v", game.ErrStaleComputation, err)
		}
		return []events.Event{events.TurnResult(id, p.Role, res.WasHit, rec.ShipsLeft, rec.State)}, nil
	}
	return nil, fmt.Errorf("%w: %s", gateway.ErrUnknownKind, p.Kind)
}
