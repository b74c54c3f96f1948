package zk

import (
	"github.com/consensys/gnark/frontend"

	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
)

// PlacementCircuit is satisfiable only by a well-formed fleet: every cell on
// the board and no cell used twice. Everything is secret; nothing about the
// fleet leaves the circuit.
type PlacementCircuit struct {
	Rows [fleet.ShipCells]frontend.Variable `gnark:",secret"`
	Cols [fleet.ShipCells]frontend.Variable `gnark:",secret"`
}

func (c *PlacementCircuit) Define(api frontend.API) error {
	var cells [fleet.ShipCells]frontend.Variable
	for i := 0; i < fleet.ShipCells; i++ {
		api.AssertIsLessOrEqual(c.Rows[i], fleet.BoardSize-1)
		api.AssertIsLessOrEqual(c.Cols[i], fleet.BoardSize-1)
		// row*10+col is injective once both are in range
		cells[i] = api.Add(api.Mul(c.Rows[i], fleet.BoardSize), c.Cols[i])
	}
	for i := 0; i < fleet.ShipCells; i++ {
		for j := i + 1; j < fleet.ShipCells; j++ {
			api.AssertIsDifferent(cells[i], cells[j])
		}
	}
	return nil
}
