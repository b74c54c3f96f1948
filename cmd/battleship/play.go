package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mahhheshh/confidential-battleship-game/internal/app"
	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/events"
	"github.com/Mahhheshh/confidential-battleship-game/internal/fleet"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/mxe"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
)

const settleTimeout = 30 * time.Second

type player struct {
	id  game.Principal
	kp  cipher.KeyPair
	key cipher.Key
	p1  bool
}

func newPlayer(name string, p1 bool, network cipher.PublicKey) (player, error) {
	kp, err := cipher.GenerateKeyPair()
	if err != nil {
		return player{}, err
	}
	key, err := cipher.SharedKey(kp.Private, network)
	if err != nil {
		return player{}, err
	}
	var id game.Principal
	copy(id[:], name)
	return player{id: id, kp: kp, key: key, p1: p1}, nil
}

// placeMove seals pl after checking it locally; the network would abort an
// invalid placement anyway.
func (p player) placeMove(pl fleet.Placement) (app.Move, error) {
	if err := pl.Validate(); err != nil {
		return app.Move{}, err
	}
	nonce, err := cipher.NewNonce()
	if err != nil {
		return app.Move{}, err
	}
	blob, err := fleet.SealPlacementInput(p.key, nonce, p.p1, pl)
	return app.Move{InputNonce: nonce, Ciphertext: blob}, err
}

func (p player) guessMove(c fleet.Coord) (app.Move, error) {
	nonce, err := cipher.NewNonce()
	if err != nil {
		return app.Move{}, err
	}
	blob, err := fleet.SealGuessInput(p.key, nonce, p.p1, c)
	return app.Move{InputNonce: nonce, Ciphertext: blob}, err
}

// cmdPlay runs a whole match between two scripted players on a local compute
// network. Both fleets are random; each player sweeps the board row by row.
func cmdPlay() error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	verbose := fs.Bool("verbose", false, "log every computation")
	_ = fs.Parse(os.Args[2:])

	logger := cli.Level(zerolog.InfoLevel)
	if !*verbose {
		logger = cli.Level(zerolog.WarnLevel)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := store.NewMemory()
	keys, err := cipher.GenerateKeyPair()
	if err != nil {
		return err
	}
	x, err := mxe.New(keys, st, mxe.WithLogger(logger))
	if err != nil {
		return err
	}
	svc := app.New(st, x, app.WithLogger(logger), app.WithNotifier(events.Logger{Log: logger}))
	go func() { _ = x.Run(ctx, svc) }()

	a, err := newPlayer("alice", true, x.PublicKey())
	if err != nil {
		return err
	}
	b, err := newPlayer("bob", false, x.PublicKey())
	if err != nil {
		return err
	}

	r, err := svc.CreateGame(ctx, app.NewGame{Player1: a.id, Player2: b.id, Player1Key: a.kp.Public, Player2Key: b.kp.Public})
	if err != nil {
		return err
	}
	id := r.Game
	snap, err := settle(ctx, svc, id)
	if err != nil {
		return err
	}
	if !snap.Record.Initialized {
		return errors.New("fleet initialization was aborted")
	}
	fmt.Println("game", id)

	for _, p := range []player{a, b} {
		pl, err := fleet.RandomPlacement()
		if err != nil {
			return err
		}
		m, err := p.placeMove(pl)
		if err != nil {
			return err
		}
		if _, err := svc.PlaceShips(ctx, id, p.id, m); err != nil {
			return err
		}
		if snap, err = settle(ctx, svc, id); err != nil {
			return err
		}
	}
	if snap.Record.State != game.Player1Turn {
		return fmt.Errorf("placement did not start the game, state %s", snap.Record.State)
	}
	fmt.Println("✓ both fleets placed")

	next := [2]int{}
	for snap.Record.State != game.Finished {
		role := game.Player1
		p := a
		if snap.Record.State == game.Player2Turn {
			role, p = game.Player2, b
		}
		i := next[role]
		if i >= fleet.BoardSize*fleet.BoardSize {
			return fmt.Errorf("%s ran out of cells", role)
		}
		next[role]++
		c := fleet.Coord{Row: uint8(i / fleet.BoardSize), Col: uint8(i % fleet.BoardSize)}

		m, err := p.guessMove(c)
		if err != nil {
			return err
		}
		if _, err := svc.TakeTurn(ctx, id, p.id, m); err != nil {
			return err
		}
		before := snap.Record.ShipsLeft
		if snap, err = settle(ctx, svc, id); err != nil {
			return err
		}
		if snap.Record.ShipsLeft != before {
			fmt.Printf("%s fires at %s: HIT  %v\n", role, c, snap.Record.ShipsLeft)
		}
	}

	w, _ := snap.Record.Winner()
	fmt.Printf("✓ %s wins after %d/%d shots, ships left %v\n", w, next[game.Player1], next[game.Player2], snap.Record.ShipsLeft)
	return nil
}

// settle waits for the game's in-flight computation to come back.
func settle(ctx context.Context, svc *app.Service, id uuid.UUID) (*store.Snapshot, error) {
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		snap, err := svc.Game(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap.Pending == nil {
			return snap, nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil, fmt.Errorf("computation for game %s did not settle within %s", id, settleTimeout)
}
