package gateway

import (
	"fmt"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
)

const (
	// nonce || fleet
	FleetResultSize = cipher.NonceSize + fleet.EncryptedSize
	// hit flag || nonce || fleet
	TurnResultSize = 1 + FleetResultSize
)

// FleetResult is the decoded output of initialize and place-ships.
type FleetResult struct {
	Nonce cipher.Nonce
	Fleet fleet.Encrypted
}

// TurnResult is the decoded output of take-turn. WasHit is the only value the
// computation reveals.
type TurnResult struct {
	FleetResult
	WasHit bool
}

func DecodeFleetResult(out Output) (FleetResult, error) {
	if out.Aborted {
		return FleetResult{}, ErrAbortedComputation
	}
	if len(out.Bytes) != FleetResultSize {
		return FleetResult{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedResult, len(out.Bytes), FleetResultSize)
	}
	return decodeFleet(out.Bytes)
}

func DecodeTurnResult(out Output) (TurnResult, error) {
	if out.Aborted {
		return TurnResult{}, ErrAbortedComputation
	}
	if len(out.Bytes) != TurnResultSize {
		return TurnResult{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedResult, len(out.Bytes), TurnResultSize)
	}
	var hit bool
	switch out.Bytes[0] {
	case 0:
	case 1:
		hit = true
	default:
		return TurnResult{}, fmt.Errorf("%w: hit flag %d", ErrMalformedResult, out.Bytes[0])
	}
	res, err := decodeFleet(out.Bytes[1:])
	if err != nil {
		return TurnResult{}, err
	}
	return TurnResult{FleetResult: res, WasHit: hit}, nil
}

func decodeFleet(b []byte) (FleetResult, error) {
	var r FleetResult
	copy(r.Nonce[:], b[:cipher.NonceSize])
	enc, err := fleet.EncryptedFromBytes(b[cipher.NonceSize:])
	if err != nil {
		return FleetResult{}, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	r.Fleet = enc
	return r, nil
}

func EncodeFleetResult(r FleetResult) []byte {
	out := make([]byte, 0, FleetResultSize)
	out = append(out, r.Nonce[:]...)
	return append(out, r.Fleet.Bytes()...)
}

func EncodeTurnResult(r TurnResult) []byte {
	out := make([]byte, 0, TurnResultSize)
	if r.WasHit {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return append(out, EncodeFleetResult(r.FleetResult)...)
}
