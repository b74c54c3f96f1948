package gateway

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
)

type ArgKind uint8

const (
	ArgPubkey ArgKind = iota + 1
	ArgPlaintextU128
	ArgPlaintextBool
	ArgEncrypted
	ArgAccount
)

func (k ArgKind) String() string {
	switch k {
	case ArgPubkey:
		return "pubkey"
	case ArgPlaintextU128:
		return "u128"
	case ArgPlaintextBool:
		return "bool"
	case ArgEncrypted:
		return "encrypted"
	case ArgAccount:
		return "account"
	}
	return fmt.Sprintf("arg(%d)", uint8(k))
}

// AccountRef points the network at a byte region of a stored record.
type AccountRef struct {
	Game   uuid.UUID
	Offset uint32
	Length uint32
}

// Argument is one typed entry of a computation's argument list. Only the field
// matching Kind is meaningful.
type Argument struct {
	Kind       ArgKind
	Pubkey     cipher.PublicKey
	U128       cipher.Nonce
	Bool       bool
	Ciphertext []byte
	Account    AccountRef
}

func Pubkey(k cipher.PublicKey) Argument { return Argument{Kind: ArgPubkey, Pubkey: k} }

func PlaintextU128(n cipher.Nonce) Argument { return Argument{Kind: ArgPlaintextU128, U128: n} }

func PlaintextBool(b bool) Argument { return Argument{Kind: ArgPlaintextBool, Bool: b} }

func Encrypted(blob []byte) Argument { return Argument{Kind: ArgEncrypted, Ciphertext: blob} }

func Account(ref AccountRef) Argument { return Argument{Kind: ArgAccount, Account: ref} }

// InitializeArgs: the nonce the fresh fleet is sealed under.
func InitializeArgs(nonce cipher.Nonce) []Argument {
	return []Argument{PlaintextU128(nonce)}
}

func ParseInitializeArgs(args []Argument) (cipher.Nonce, error) {
	if err := expectKinds(args, ArgPlaintextU128); err != nil {
		return cipher.Nonce{}, err
	}
	return args[0].U128, nil
}

// MoveArgs is the shared shape of place-ships and take-turn.
type MoveArgs struct {
	PlayerKey  cipher.PublicKey
	InputNonce cipher.Nonce
	Ciphertext []byte
	FleetNonce cipher.Nonce
	Fleet      AccountRef
	IsPlayer1  bool
}

// Arguments lays the move out in wire order: the player's sealed input
// (key, nonce, blob), then the current fleet (nonce, account region), then the
// caller-derived role flag.
func (m MoveArgs) Arguments() []Argument {
	return []Argument{
		Pubkey(m.PlayerKey),
		PlaintextU128(m.InputNonce),
		Encrypted(m.Ciphertext),
		PlaintextU128(m.FleetNonce),
		Account(m.Fleet),
		PlaintextBool(m.IsPlayer1),
	}
}

func ParseMoveArgs(args []Argument) (MoveArgs, error) {
	err := expectKinds(args,
		ArgPubkey, ArgPlaintextU128, ArgEncrypted, ArgPlaintextU128, ArgAccount, ArgPlaintextBool)
	if err != nil {
		return MoveArgs{}, err
	}
	return MoveArgs{
		PlayerKey:  args[0].Pubkey,
		InputNonce: args[1].U128,
		Ciphertext: args[2].Ciphertext,
		FleetNonce: args[3].U128,
		Fleet:      args[4].Account,
		IsPlayer1:  args[5].Bool,
	}, nil
}

func expectKinds(args []Argument, kinds ...ArgKind) error {
	if len(args) != len(kinds) {
		return fmt.Errorf("%w: %d arguments, want %d", ErrArgumentShape, len(args), len(kinds))
	}
	for i, k := range kinds {
		if args[i].Kind != k {
			return fmt.Errorf("%w: argument %d is %s, want %s", ErrArgumentShape, i, args[i].Kind, k)
		}
	}
	return nil
}
