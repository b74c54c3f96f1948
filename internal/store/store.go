package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
)

// Pending is the one computation a game may have in flight. It lives next to
// the record, so clearing it never touches the record bytes.
type Pending struct {
	Offset      uint64                    `json:"offset"`
	Game        uuid.UUID                 `json:"game"`
	Kind        gateway.Kind              `json:"kind"`
	Role        game.Role                 `json:"role"`
	FleetNonce  cipher.Nonce              `json:"fleet_nonce"`
	Accounts    []gateway.CallbackAccount `json:"accounts"`
	SubmittedAt time.Time                 `json:"submitted_at"`
}

// Snapshot is a game as read inside one serialized update.
type Snapshot struct {
	ID      uuid.UUID
	Record  *game.Record
	Pending *Pending
}

// Store persists game records. Update runs fn with the game locked; fn may
// mutate Record and replace or clear Pending. If fn returns an error nothing
// is written.
type Store interface {
	Create(ctx context.Context, id uuid.UUID, rec *game.Record, p *Pending) error
	Get(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*Snapshot) error) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Computation finds the in-flight computation registered under offset.
	Computation(ctx context.Context, offset uint64) (*Pending, error)

	// Account returns the encoded record, the bytes the compute network
	// addresses by offset and length.
	Account(ctx context.Context, id uuid.UUID) ([]byte, error)

	Close() error
}

func pendingChanged(before, after *Pending) (removed, added bool) {
	switch {
	case before == nil && after == nil:
		return false, false
	case before == nil:
		return false, true
	case after == nil:
		return true, false
	case before.Offset != after.Offset:
		return true, true
	}
	return false, false
}
