package game

import (
	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
)

// Transitions apply a decoded computation result. They never run for aborted
// computations, so a record only changes on success.

// ApplyInitialize stores the first sealed fleet.
func (r *Record) ApplyInitialize(nonce cipher.Nonce, enc fleet.Encrypted) error {
	if r.State != PlacingShips {
		return ErrInvalidGameState
	}
	if r.Initialized {
		return ErrAlreadyInitialized
	}
	r.FleetNonce, r.Fleet = nonce, enc
	r.Initialized = true
	return nil
}

// ApplyPlacement stores role's new fleet and reports whether both players
// have now placed, which starts the game with player 1 to move.
func (r *Record) ApplyPlacement(role Role, nonce cipher.Nonce, enc fleet.Encrypted) (started bool, err error) {
	if r.State != PlacingShips {
		return false, ErrInvalidGameState
	}
	r.FleetNonce, r.Fleet = nonce, enc
	r.Placed[role] = true
	if r.Placed[Player1] && r.Placed[Player2] {
		r.State = Player1Turn
		return true, nil
	}
	return false, nil
}

// ApplyTurn stores the fleet after role fired. A hit costs the defender one
// ship cell; reaching zero ends the game, otherwise the turn passes.
func (r *Record) ApplyTurn(role Role, wasHit bool, nonce cipher.Nonce, enc fleet.Encrypted) error {
	if r.State != role.TurnState() {
		return ErrInvalidTurn
	}
	r.FleetNonce, r.Fleet = nonce, enc

	defender := role.Opponent()
	if wasHit && r.ShipsLeft[defender] > 0 {
		r.ShipsLeft[defender]--
	}
	if r.ShipsLeft[defender] == 0 {
		r.State = Finished
		return nil
	}
	r.State = defender.TurnState()
	return nil
}
