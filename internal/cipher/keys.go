package cipher

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	sharedKeyInfo = "battleship/shared-input-key"
	stateKeyInfo  = "battleship/mxe-state-key"
)

// PublicKey is an x25519 public key. Players register theirs with the game so
// the compute network can derive the key their inputs are sealed under.
type PublicKey [32]byte

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

func (p PublicKey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PublicKey) UnmarshalText(b []byte) error {
	return decodeFixedHex(string(b), p[:], "public key")
}

func ParsePublicKey(s string) (PublicKey, error) {
	var p PublicKey
	err := p.UnmarshalText([]byte(s))
	return p, err
}

type PrivateKey [32]byte

func (p PrivateKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(p[:])), nil
}

func (p *PrivateKey) UnmarshalText(b []byte) error {
	return decodeFixedHex(string(b), p[:], "private key")
}

func ParsePrivateKey(s string) (PrivateKey, error) {
	var p PrivateKey
	err := p.UnmarshalText([]byte(s))
	return p, err
}

type KeyPair struct {
	Private PrivateKey `json:"private"`
	Public  PublicKey  `json:"public"`
}

func GenerateKeyPair() (KeyPair, error) {
	var priv PrivateKey
	if _, err := rand.Read(priv[:]); err != nil {
		return KeyPair{}, err
	}
	return KeyPairFromPrivate(priv)
}

func KeyPairFromPrivate(priv PrivateKey) (KeyPair, error) {
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, err
	}
	kp := KeyPair{Private: priv}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedKey derives the symmetric key both ends of an x25519 exchange agree on.
// A player seals move inputs with SharedKey(player, network) and the network
// opens them with SharedKey(network, player).
func SharedKey(priv PrivateKey, peer PublicKey) (Key, error) {
	secret, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return Key{}, err
	}
	return deriveKey(secret, sharedKeyInfo)
}

// StateKey derives the key only the network holds; the fleet is sealed under it.
func (kp KeyPair) StateKey() (Key, error) {
	return deriveKey(kp.Private[:], stateKeyInfo)
}

func deriveKey(secret []byte, info string) (Key, error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(info))
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Key{}, err
	}
	return KeyFromBytes(buf), nil
}
