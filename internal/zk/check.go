package zk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
)

var ErrInvalidPlacement = errors.New("placement does not satisfy the placement circuit")

var (
	compileOnce sync.Once
	placementCS constraint.ConstraintSystem
	compileErr  error
)

// Compile once, solve per placement.
func placementSystem() (constraint.ConstraintSystem, error) {
	compileOnce.Do(func() {
		var circuit PlacementCircuit
		placementCS, compileErr = frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
	})
	return placementCS, compileErr
}

// Warm compiles the placement circuit ahead of the first placement.
func Warm() error {
	_, err := placementSystem()
	return err
}

// CheckPlacement solves the placement circuit for p.
func CheckPlacement(p fleet.Placement) error {
	cs, err := placementSystem()
	if err != nil {
		return err
	}

	var assign PlacementCircuit
	for i, c := range p {
		assign.Rows[i] = uint64(c.Row)
		assign.Cols[i] = uint64(c.Col)
	}
	wit, err := frontend.NewWitness(&assign, ecc.BN254.ScalarField())
	if err != nil {
		return err
	}
	if err := cs.IsSolved(wit); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlacement, err)
	}
	return nil
}
