package game

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
)

// InitialShips is the number of ship cells each player starts with.
const InitialShips = fleet.ShipCells

// State is the phase of a game.
type State uint8

const (
	PlacingShips State = 0
	Player1Turn  State = 1
	Player2Turn  State = 2
	Finished     State = 3
)

func (s State) String() string {
	switch s {
	case PlacingShips:
		return "placing_ships"
	case Player1Turn:
		return "player1_turn"
	case Player2Turn:
		return "player2_turn"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for v := PlacingShips; v <= Finished; v++ {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("%w: state %q", ErrInvalidRecord, string(b))
}

func (s State) valid() bool { return s <= Finished }

// Role is a seat at the table.
type Role uint8

const (
	Player1 Role = 0
	Player2 Role = 1
)

func RoleFromBool(isPlayer1 bool) Role {
	if isPlayer1 {
		return Player1
	}
	return Player2
}

func (r Role) IsPlayer1() bool { return r == Player1 }

func (r Role) Opponent() Role { return r ^ 1 }

// TurnState is the state in which r may fire.
func (r Role) TurnState() State {
	if r == Player1 {
		return Player1Turn
	}
	return Player2Turn
}

func (r Role) String() string {
	if r == Player1 {
		return "player1"
	}
	return "player2"
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *Role) UnmarshalText(b []byte) error {
	switch string(b) {
	case "player1":
		*r = Player1
	case "player2":
		*r = Player2
	default:
		return fmt.Errorf("unknown role %q", string(b))
	}
	return nil
}

// Principal is an opaque caller identity (an account address on the ledger).
type Principal [32]byte

func (p Principal) String() string { return hex.EncodeToString(p[:]) }

func (p Principal) IsZero() bool { return p == Principal{} }

func (p Principal) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Principal) UnmarshalText(b []byte) error {
	s := string(b)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid principal hex: %w", err)
	}
	if len(raw) != len(p) {
		return fmt.Errorf("invalid principal length: got %d bytes, want %d", len(raw), len(p))
	}
	copy(p[:], raw)
	return nil
}

func ParsePrincipal(s string) (Principal, error) {
	var p Principal
	err := p.UnmarshalText([]byte(s))
	return p, err
}

// Record is the persisted state of one match.
//
// FleetNonce and Fleet are only ever replaced together, from one computation
// result. ShipsLeft only goes down, one per confirmed hit.
type Record struct {
	Player1     Principal
	Player2     Principal
	Player1Key  cipher.PublicKey
	Player2Key  cipher.PublicKey
	State       State
	ShipsLeft   [2]uint8
	Placed      [2]bool
	Initialized bool
	FleetNonce  cipher.Nonce
	Fleet       fleet.Encrypted
}

// NewRecord starts a game in PlacingShips with full ship counts. The fleet
// stays unset until the initialize computation lands.
func NewRecord(p1, p2 Principal, k1, k2 cipher.PublicKey) (*Record, error) {
	if p1.IsZero() || p2.IsZero() {
		return nil, ErrInvalidPlayer
	}
	if p1 == p2 {
		return nil, ErrSamePlayers
	}
	return &Record{
		Player1:    p1,
		Player2:    p2,
		Player1Key: k1,
		Player2Key: k2,
		State:      PlacingShips,
		ShipsLeft:  [2]uint8{InitialShips, InitialShips},
	}, nil
}

func (r *Record) RoleOf(caller Principal) (Role, bool) {
	switch caller {
	case r.Player1:
		return Player1, true
	case r.Player2:
		return Player2, true
	}
	return 0, false
}

func (r *Record) PlayerKey(role Role) cipher.PublicKey {
	if role == Player1 {
		return r.Player1Key
	}
	return r.Player2Key
}

// Winner is the player whose opponent ran out of ships.
func (r *Record) Winner() (Role, bool) {
	if r.State != Finished {
		return 0, false
	}
	if r.ShipsLeft[Player2] == 0 {
		return Player1, true
	}
	return Player2, true
}

func (r *Record) Clone() *Record {
	cp := *r
	return &cp
}

// ---------- Binary layout ----------
//
//	discriminator[8] | player1[32] | player2[32] | player1Key[32] | player2Key[32] |
//	state[1] | shipsLeft[2] | flags[1] | fleetNonce[16] | fleet[34*32]
//
// The compute network reads the fleet straight out of this layout through an
// account reference (FleetOffset, FleetLength), so the order is fixed.

const (
	discriminatorSize = 8

	FleetOffset = discriminatorSize + 4*32 + 1 + 2 + 1 + cipher.NonceSize
	FleetLength = fleet.EncryptedSize
	RecordSize  = FleetOffset + FleetLength
)

const (
	flagPlayer1Placed = 1 << 0
	flagPlayer2Placed = 1 << 1
	flagInitialized   = 1 << 7
)

var discriminator = func() [discriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:GameRecord"))
	var d [discriminatorSize]byte
	copy(d[:], sum[:])
	return d
}()

func (r *Record) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, RecordSize)
	out = append(out, discriminator[:]...)
	out = append(out, r.Player1[:]...)
	out = append(out, r.Player2[:]...)
	out = append(out, r.Player1Key[:]...)
	out = append(out, r.Player2Key[:]...)
	out = append(out, byte(r.State), r.ShipsLeft[0], r.ShipsLeft[1])

	var flags byte
	if r.Placed[Player1] {
		flags |= flagPlayer1Placed
	}
	if r.Placed[Player2] {
		flags |= flagPlayer2Placed
	}
	if r.Initialized {
		flags |= flagInitialized
	}
	out = append(out, flags)
	out = append(out, r.FleetNonce[:]...)
	out = append(out, r.Fleet.Bytes()...)
	return out, nil
}

func (r *Record) UnmarshalBinary(b []byte) error {
	rd := &reader{b: b}
	if d := rd.bytes(discriminatorSize); rd.err == nil && [discriminatorSize]byte(d) != discriminator {
		return fmt.Errorf("%w: bad discriminator", ErrInvalidRecord)
	}
	var rec Record
	copy(rec.Player1[:], rd.bytes(32))
	copy(rec.Player2[:], rd.bytes(32))
	copy(rec.Player1Key[:], rd.bytes(32))
	copy(rec.Player2Key[:], rd.bytes(32))
	rec.State = State(rd.u8())
	rec.ShipsLeft[0] = rd.u8()
	rec.ShipsLeft[1] = rd.u8()
	flags := rd.u8()
	copy(rec.FleetNonce[:], rd.bytes(cipher.NonceSize))
	fleetBytes := rd.bytes(FleetLength)
	rd.mustEnd()
	if rd.err != nil {
		return rd.err
	}

	enc, err := fleet.EncryptedFromBytes(fleetBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	rec.Fleet = enc
	rec.Placed[Player1] = flags&flagPlayer1Placed != 0
	rec.Placed[Player2] = flags&flagPlayer2Placed != 0
	rec.Initialized = flags&flagInitialized != 0

	if !rec.State.valid() {
		return fmt.Errorf("%w: state %d", ErrInvalidRecord, rec.State)
	}
	if rec.ShipsLeft[0] > InitialShips || rec.ShipsLeft[1] > InitialShips {
		return fmt.Errorf("%w: ships left %v", ErrInvalidRecord, rec.ShipsLeft)
	}
	*r = rec
	return nil
}

// reader walks a byte slice, remembering the first overflow.
type reader struct {
	b   []byte
	i   int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.i+n > len(r.b) {
		r.err = fmt.Errorf("%w: truncated at byte %d", ErrInvalidRecord, r.i)
		return false
	}
	return true
}

func (r *reader) u8() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.i]
	r.i++
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return make([]byte, n)
	}
	v := r.b[r.i : r.i+n]
	r.i += n
	return v
}

func (r *reader) mustEnd() {
	if r.err == nil && r.i != len(r.b) {
		r.err = fmt.Errorf("%w: %d trailing bytes", ErrInvalidRecord, len(r.b)-r.i)
	}
}

// Decode parses a stored record.
func Decode(b []byte) (*Record, error) {
	var r Record
	if err := r.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &r, nil
}

// FleetRegion slices the encrypted fleet out of an encoded record.
func FleetRegion(account []byte) ([]byte, error) {
	if len(account) != RecordSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidRecord, len(account), RecordSize)
	}
	return account[FleetOffset : FleetOffset+FleetLength], nil
}

// FleetRef points the compute network at the fleet region of game id's record.
func FleetRef(id uuid.UUID) gateway.AccountRef {
	return gateway.AccountRef{Game: id, Offset: FleetOffset, Length: FleetLength}
}
