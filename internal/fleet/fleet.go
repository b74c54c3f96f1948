package fleet

import (
	"errors"
	"fmt"
	"math/rand"
)

const (
	BoardSize = 10
	ShipCells = 17            // slots per player
	Slots     = 2 * ShipCells // slots for both players
)

// Coord is one ship cell. Row and Col are 0..9 for a real cell; the two
// sentinels below sit outside that range so no guess can ever match them.
type Coord struct {
	Row uint8 `json:"row"`
	Col uint8 `json:"col"`
}

var (
	Unset     = Coord{Row: 255, Col: 255} // not placed yet
	Destroyed = Coord{Row: 11, Col: 11}   // hit
)

var (
	ErrOutOfBounds   = errors.New("coordinate out of board bounds")
	ErrDuplicateCell = errors.New("coordinate placed twice")
	ErrSlotValue     = errors.New("slot value does not encode a coordinate")
)

var shipSizes = []int{5, 4, 3, 3, 2} // total 17

func (c Coord) InBounds() bool { return c.Row < BoardSize && c.Col < BoardSize }

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.Row, c.Col) }

// Pack encodes the coordinate as a single slot value: row<<8 | col.
func (c Coord) Pack() uint64 { return uint64(c.Row)<<8 | uint64(c.Col) }

func Unpack(v uint64) (Coord, error) {
	if v > 0xFFFF {
		return Coord{}, fmt.Errorf("%w: %d", ErrSlotValue, v)
	}
	return Coord{Row: uint8(v >> 8), Col: uint8(v)}, nil
}

// Placement is one player's ordered set of ship cells.
type Placement [ShipCells]Coord

// Validate checks that every cell is on the board and no cell repeats.
func (p Placement) Validate() error {
	var seen [BoardSize][BoardSize]bool
	for i, c := range p {
		if !c.InBounds() {
			return fmt.Errorf("slot %d %s: %w", i, c, ErrOutOfBounds)
		}
		if seen[c.Row][c.Col] {
			return fmt.Errorf("slot %d %s: %w", i, c, ErrDuplicateCell)
		}
		seen[c.Row][c.Col] = true
	}
	return nil
}

// Fleet holds both players' placements. It is a value type: every operation
// returns a new Fleet.
type Fleet struct {
	Player1 Placement `json:"player1"`
	Player2 Placement `json:"player2"`
}

func (f Fleet) Of(isPlayer1 bool) Placement {
	if isPlayer1 {
		return f.Player1
	}
	return f.Player2
}

// Initialize returns both fleets with every slot unset.
func Initialize() Fleet {
	var f Fleet
	for i := 0; i < ShipCells; i++ {
		f.Player1[i] = Unset
		f.Player2[i] = Unset
	}
	return f
}

// Place replaces the addressed player's slots wholesale.
func Place(isPlayer1 bool, coords Placement, f Fleet) Fleet {
	if isPlayer1 {
		f.Player1 = coords
	} else {
		f.Player2 = coords
	}
	return f
}

// TakeTurn fires at the opponent of the acting player. Every matching slot is
// overwritten with Destroyed; wasHit reports whether at least one matched.
func TakeTurn(isPlayer1 bool, guess Coord, f Fleet) (Fleet, bool) {
	enemy := &f.Player1
	if isPlayer1 {
		enemy = &f.Player2
	}
	wasHit := false
	for i := range enemy {
		if enemy[i] == guess {
			enemy[i] = Destroyed
			wasHit = true
		}
	}
	return f, wasHit
}

// RandomPlacement lays out the standard ships without overlap (no adjacency
// rule) and returns their cells.
func RandomPlacement() (Placement, error) {
	var board [BoardSize][BoardSize]bool
	var p Placement
	k := 0
	tries := 0
	for _, L := range shipSizes {
	retry:
		if tries > 10000 {
			return Placement{}, errors.New("failed to place ships")
		}
		tries++
		vert := rand.Intn(2) == 0
		r := rand.Intn(BoardSize)
		c := rand.Intn(BoardSize)
		if vert {
			if r+L > BoardSize {
				goto retry
			}
			for i := 0; i < L; i++ {
				if board[r+i][c] {
					goto retry
				}
			}
			for i := 0; i < L; i++ {
				board[r+i][c] = true
				p[k] = Coord{Row: uint8(r + i), Col: uint8(c)}
				k++
			}
		} else {
			if c+L > BoardSize {
				goto retry
			}
			for i := 0; i < L; i++ {
				if board[r][c+i] {
					goto retry
				}
			}
			for i := 0; i < L; i++ {
				board[r][c+i] = true
				p[k] = Coord{Row: uint8(r), Col: uint8(c + i)}
				k++
			}
		}
	}
	return p, p.Validate()
}
