package game

// AuthorizePlacement checks that caller may place ships now and returns the
// caller's role.
func (r *Record) AuthorizePlacement(caller Principal) (Role, error) {
	if r.State != PlacingShips {
		return 0, ErrInvalidGameState
	}
	role, ok := r.RoleOf(caller)
	if !ok {
		return 0, ErrUnauthorizedPlayer
	}
	if !r.Initialized {
		return 0, ErrFleetNotInitialized
	}
	return role, nil
}

// AuthorizeTurn checks that it is caller's turn to fire. Any mismatch,
// including a stranger or a game outside a turn state, is ErrInvalidTurn.
func (r *Record) AuthorizeTurn(caller Principal) (Role, error) {
	role, ok := r.RoleOf(caller)
	if !ok || r.State != role.TurnState() {
		return 0, ErrInvalidTurn
	}
	return role, nil
}
