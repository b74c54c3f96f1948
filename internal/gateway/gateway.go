package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAbortedComputation = errors.New("the computation was aborted by the compute network")
	ErrMalformedResult    = errors.New("computation result has an unexpected layout")
	ErrArgumentShape      = errors.New("argument list does not match the computation definition")
	ErrUnknownKind        = errors.New("unknown computation kind")
)

// Kind names one of the confidential circuits.
type Kind uint8

const (
	KindInitialize Kind = iota + 1
	KindPlaceShips
	KindTakeTurn
)

var kindNames = map[Kind]string{
	KindInitialize: "init_player_ship_fleet_location",
	KindPlaceShips: "place_ships",
	KindTakeTurn:   "take_turn",
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, string(b))
}

// CallbackAccount is a record the callback for a computation may touch.
type CallbackAccount struct {
	Game     uuid.UUID `json:"game"`
	Writable bool      `json:"writable"`
}

// Request is one queued computation. Offset is chosen by the caller and must
// be unique across the deployment; it is how the callback finds its way back.
type Request struct {
	Kind     Kind
	Offset   uint64
	Args     []Argument
	Callback []CallbackAccount
}

// Output is what the network reports for a computation: either result bytes
// or an abort.
type Output struct {
	Bytes   []byte
	Aborted bool
}

func BytesOutput(b []byte) Output { return Output{Bytes: b} }

func AbortOutput() Output { return Output{Aborted: true} }

type Callback struct {
	Offset   uint64
	Kind     Kind
	Accounts []CallbackAccount
	Output   Output
}

// Allows reports whether the callback may write to the game's record.
func (cb Callback) Allows(game uuid.UUID) bool {
	for _, a := range cb.Accounts {
		if a.Game == game && a.Writable {
			return true
		}
	}
	return false
}

// Network is the confidential compute network as the coordinator sees it.
// Submit only queues; the result arrives later through a CallbackHandler.
type Network interface {
	Submit(ctx context.Context, req Request) error
}

type CallbackHandler interface {
	HandleCallback(ctx context.Context, cb Callback) error
}
