package game

import (
	"errors"

	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
)

var (
	// ErrAbortedComputation is the gateway's error; both names match with errors.Is.
	ErrAbortedComputation = gateway.ErrAbortedComputation

	ErrInvalidGameState   = errors.New("the game is not in the correct state for this action")
	ErrInvalidTurn        = errors.New("it is not currently this player's turn")
	ErrUnauthorizedPlayer = errors.New("the caller is not a player of this game")

	ErrGameNotFound         = errors.New("game not found")
	ErrGameExists           = errors.New("game already exists")
	ErrSamePlayers          = errors.New("player 1 and player 2 must differ")
	ErrInvalidPlayer        = errors.New("player identity is empty")
	ErrFleetNotInitialized  = errors.New("the encrypted fleet has not been initialized yet")
	ErrAlreadyInitialized   = errors.New("the encrypted fleet is already initialized")
	ErrComputationPending   = errors.New("a computation for this game is still in flight")
	ErrUnknownComputation   = errors.New("no in-flight computation with this offset")
	ErrStaleComputation     = errors.New("the game changed since the computation was submitted")
	ErrDuplicateComputation = errors.New("computation offset already in use")
	ErrComputationNotStale  = errors.New("the in-flight computation has not timed out")
	ErrCallbackAccount      = errors.New("callback is not permitted to write this game")
	ErrInvalidRecord        = errors.New("stored game record is corrupt")
	ErrInvalidMove          = errors.New("move input is malformed")
)
