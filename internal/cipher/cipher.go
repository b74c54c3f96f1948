package cipher

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	bnmimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

const (
	NonceSize = 16
	UnitSize  = fr.Bytes // one BN254 scalar field element
)

var ErrUndecryptable = errors.New("ciphertext does not decrypt under this key")

// Nonce is the 128-bit value a ciphertext was sealed under. It must always
// travel together with that ciphertext.
type Nonce [NonceSize]byte

func NewNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, err
	}
	return n, nil
}

func (n Nonce) IsZero() bool { return n == Nonce{} }

func (n Nonce) String() string { return hex.EncodeToString(n[:]) }

func (n Nonce) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

func (n *Nonce) UnmarshalText(b []byte) error {
	return decodeFixedHex(string(b), n[:], "nonce")
}

// element is the nonce read as a big-endian integer, the same byte order as
// a Unit. This is the value fed to the keystream.
func (n Nonce) element() fr.Element {
	var e fr.Element
	e.SetBytes(n[:])
	return e
}

// Unit is one 32-byte ciphertext unit (a canonical big-endian field element).
type Unit [UnitSize]byte

// Key is a symmetric key in the scalar field.
type Key struct {
	e fr.Element
}

// KeyFromBytes reduces arbitrary key material into the field.
func KeyFromBytes(b []byte) Key {
	var k Key
	k.e.SetBytes(b)
	return k
}


// keystream returns MiMC(key || nonce || i), matching the in-circuit MiMC.
func (k Key) keystream(nonce Nonce, i int) (fr.Element, error) {
	var idx fr.Element
	idx.SetUint64(uint64(i))
	ne := nonce.element()

	kb := k.e.Bytes()
	nb := ne.Bytes()
	ib := idx.Bytes()

	h := bnmimc.NewMiMC()
	for _, blk := range [][]byte{kb[:], nb[:], ib[:]} {
		if _, err := h.Write(blk); err != nil {
			return fr.Element{}, err
		}
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out, nil
}

// Seal encrypts each message as one unit: unit_i = m_i + keystream_i (mod r).
func Seal(key Key, nonce Nonce, msgs []uint64) ([]Unit, error) {
	out := make([]Unit, len(msgs))
	for i, m := range msgs {
		ks, err := key.keystream(nonce, i)
		if err != nil {
			return nil, err
		}
		var c fr.Element
		c.SetUint64(m)
		c.Add(&c, &ks)
		out[i] = Unit(c.Bytes())
	}
	return out, nil
}

// Open reverses Seal. Units that are not canonical field elements, or that do
// not decrypt to a 64-bit value, yield ErrUndecryptable.
func Open(key Key, nonce Nonce, units []Unit) ([]uint64, error) {
	out := make([]uint64, len(units))
	for i, u := range units {
		var c fr.Element
		if err := c.SetBytesCanonical(u[:]); err != nil {
			return nil, fmt.Errorf("unit %d: %w", i, ErrUndecryptable)
		}
		ks, err := key.keystream(nonce, i)
		if err != nil {
			return nil, err
		}
		c.Sub(&c, &ks)
		if !c.IsUint64() {
			return nil, fmt.Errorf("unit %d: %w", i, ErrUndecryptable)
		}
		out[i] = c.Uint64()
	}
	return out, nil
}

// SplitUnits cuts a blob into 32-byte units. The blob length must be a
// multiple of UnitSize.
func SplitUnits(b []byte) ([]Unit, error) {
	if len(b)%UnitSize != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of %d", len(b), UnitSize)
	}
	out := make([]Unit, len(b)/UnitSize)
	for i := range out {
		copy(out[i][:], b[i*UnitSize:])
	}
	return out, nil
}

func JoinUnits(units []Unit) []byte {
	out := make([]byte, 0, len(units)*UnitSize)
	for _, u := range units {
		out = append(out, u[:]...)
	}
	return out
}

func decodeFixedHex(s string, dst []byte, what string) error {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid %s hex: %w", what, err)
	}
	if len(b) != len(dst) {
		return fmt.Errorf("invalid %s length: got %d bytes, want %d", what, len(b), len(dst))
	}
	copy(dst, b)
	return nil
}
