package fleet

import (
	"errors"
	"fmt"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
)

const (
	EncryptedSize = Slots * cipher.UnitSize

	placementInputUnits = 1 + ShipCells // role flag + cells
	guessInputUnits     = 1 + 1         // role flag + guess

	// Byte sizes of the client input blobs.
	PlacementInputSize = placementInputUnits * cipher.UnitSize
	GuessInputSize     = guessInputUnits * cipher.UnitSize
)

var ErrInputShape = errors.New("encrypted input has the wrong number of units")

// Encrypted is the fleet as stored on the game record: one ciphertext unit per
// slot, player 1's slots first.
type Encrypted [Slots]cipher.Unit

func (e Encrypted) Bytes() []byte { return cipher.JoinUnits(e[:]) }

func EncryptedFromBytes(b []byte) (Encrypted, error) {
	var e Encrypted
	if len(b) != EncryptedSize {
		return e, fmt.Errorf("encrypted fleet is %d bytes, want %d", len(b), EncryptedSize)
	}
	units, err := cipher.SplitUnits(b)
	if err != nil {
		return e, err
	}
	copy(e[:], units)
	return e, nil
}

func (f Fleet) slots() []uint64 {
	out := make([]uint64, 0, Slots)
	for _, c := range f.Player1 {
		out = append(out, c.Pack())
	}
	for _, c := range f.Player2 {
		out = append(out, c.Pack())
	}
	return out
}

// Seal encrypts the fleet under key and nonce.
func Seal(key cipher.Key, nonce cipher.Nonce, f Fleet) (Encrypted, error) {
	units, err := cipher.Seal(key, nonce, f.slots())
	if err != nil {
		return Encrypted{}, err
	}
	var e Encrypted
	copy(e[:], units)
	return e, nil
}

func Open(key cipher.Key, nonce cipher.Nonce, e Encrypted) (Fleet, error) {
	vals, err := cipher.Open(key, nonce, e[:])
	if err != nil {
		return Fleet{}, err
	}
	var f Fleet
	for i, v := range vals {
		c, err := Unpack(v)
		if err != nil {
			return Fleet{}, err
		}
		if i < ShipCells {
			f.Player1[i] = c
		} else {
			f.Player2[i-ShipCells] = c
		}
	}
	return f, nil
}

// --- client inputs ---

// SealPlacementInput builds the ciphertext blob a player submits with a
// place-ships move.
func SealPlacementInput(key cipher.Key, nonce cipher.Nonce, isPlayer1 bool, p Placement) ([]byte, error) {
	msgs := make([]uint64, 0, placementInputUnits)
	msgs = append(msgs, boolSlot(isPlayer1))
	for _, c := range p {
		msgs = append(msgs, c.Pack())
	}
	units, err := cipher.Seal(key, nonce, msgs)
	if err != nil {
		return nil, err
	}
	return cipher.JoinUnits(units), nil
}

func OpenPlacementInput(key cipher.Key, nonce cipher.Nonce, blob []byte) (isPlayer1 bool, p Placement, err error) {
	vals, err := openInput(key, nonce, blob, placementInputUnits)
	if err != nil {
		return false, Placement{}, err
	}
	if isPlayer1, err = slotBool(vals[0]); err != nil {
		return false, Placement{}, err
	}
	for i := range p {
		if p[i], err = Unpack(vals[i+1]); err != nil {
			return false, Placement{}, err
		}
	}
	return isPlayer1, p, nil
}

// SealGuessInput builds the ciphertext blob a player submits with a take-turn move.
func SealGuessInput(key cipher.Key, nonce cipher.Nonce, isPlayer1 bool, guess Coord) ([]byte, error) {
	units, err := cipher.Seal(key, nonce, []uint64{boolSlot(isPlayer1), guess.Pack()})
	if err != nil {
		return nil, err
	}
	return cipher.JoinUnits(units), nil
}

func OpenGuessInput(key cipher.Key, nonce cipher.Nonce, blob []byte) (isPlayer1 bool, guess Coord, err error) {
	vals, err := openInput(key, nonce, blob, guessInputUnits)
	if err != nil {
		return false, Coord{}, err
	}
	if isPlayer1, err = slotBool(vals[0]); err != nil {
		return false, Coord{}, err
	}
	guess, err = Unpack(vals[1])
	return isPlayer1, guess, err
}

func openInput(key cipher.Key, nonce cipher.Nonce, blob []byte, want int) ([]uint64, error) {
	units, err := cipher.SplitUnits(blob)
	if err != nil {
		return nil, err
	}
	if len(units) != want {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInputShape, len(units), want)
	}
	return cipher.Open(key, nonce, units)
}

func boolSlot(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func slotBool(v uint64) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("%w: flag %d", ErrSlotValue, v)
}
