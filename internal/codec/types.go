package codec

import (
	"time"

	"github.com/google/uuid"

	"github.com/Mahhheshh/confidential-battleship-game/internal/app"
	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
)

type CreateGameRequest struct {
	Player1    game.Principal   `json:"player1"`
	Player2    game.Principal   `json:"player2"`
	Player1Key cipher.PublicKey `json:"player1_key"`
	Player2Key cipher.PublicKey `json:"player2_key"`
}

func (r CreateGameRequest) NewGame() app.NewGame {
	return app.NewGame{Player1: r.Player1, Player2: r.Player2, Player1Key: r.Player1Key, Player2Key: r.Player2Key}
}

// MoveRequest carries a sealed placement or guess. Ciphertext is base64 in
// JSON.
type MoveRequest struct {
	InputNonce cipher.Nonce `json:"input_nonce"`
	Ciphertext []byte       `json:"ciphertext"`
}

func (r MoveRequest) Move() app.Move {
	return app.Move{InputNonce: r.InputNonce, Ciphertext: r.Ciphertext}
}

// Offsets are strings in JSON; they do not fit a float64.
type Receipt struct {
	Game   uuid.UUID    `json:"game"`
	Offset uint64       `json:"offset,string"`
	Kind   gateway.Kind `json:"kind"`
}

func NewReceipt(r app.Receipt) Receipt {
	return Receipt{Game: r.Game, Offset: r.Offset, Kind: r.Kind}
}

type PendingView struct {
	Offset      uint64       `json:"offset,string"`
	Kind        gateway.Kind `json:"kind"`
	Role        game.Role    `json:"role"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// GameView is the public face of a game. The encrypted fleet itself is not
// included; only the network can read it.
type GameView struct {
	ID          uuid.UUID        `json:"id"`
	Player1     game.Principal   `json:"player1"`
	Player2     game.Principal   `json:"player2"`
	Player1Key  cipher.PublicKey `json:"player1_key"`
	Player2Key  cipher.PublicKey `json:"player2_key"`
	State       game.State       `json:"state"`
	ShipsLeft   [2]uint8         `json:"ships_left"`
	Placed      [2]bool          `json:"placed"`
	Initialized bool             `json:"initialized"`
	FleetNonce  cipher.Nonce     `json:"fleet_nonce"`
	Winner      *game.Role       `json:"winner,omitempty"`
	Pending     *PendingView     `json:"pending,omitempty"`
}

func NewGameView(s *store.Snapshot) GameView {
	r := s.Record
	v := GameView{
		ID:          s.ID,
		Player1:     r.Player1,
		Player2:     r.Player2,
		Player1Key:  r.Player1Key,
		Player2Key:  r.Player2Key,
		State:       r.State,
		ShipsLeft:   r.ShipsLeft,
		Placed:      r.Placed,
		Initialized: r.Initialized,
		FleetNonce:  r.FleetNonce,
	}
	if w, ok := r.Winner(); ok {
		v.Winner = &w
	}
	if p := s.Pending; p != nil {
		v.Pending = &PendingView{Offset: p.Offset, Kind: p.Kind, Role: p.Role, SubmittedAt: p.SubmittedAt}
	}
	return v
}

// CallbackRequest is a computation result delivered by an external network.
type CallbackRequest struct {
	Offset   uint64                    `json:"offset,string"`
	Kind     gateway.Kind              `json:"kind"`
	Accounts []gateway.CallbackAccount `json:"accounts"`
	Aborted  bool                      `json:"aborted,omitempty"`
	Output   []byte                    `json:"output,omitempty"`
}

func (r CallbackRequest) Callback() gateway.Callback {
	out := gateway.BytesOutput(r.Output)
	if r.Aborted {
		out = gateway.AbortOutput()
	}
	return gateway.Callback{Offset: r.Offset, Kind: r.Kind, Accounts: r.Accounts, Output: out}
}

func NewCallbackRequest(cb gateway.Callback) CallbackRequest {
	return CallbackRequest{
		Offset:   cb.Offset,
		Kind:     cb.Kind,
		Accounts: cb.Accounts,
		Aborted:  cb.Output.Aborted,
		Output:   cb.Output.Bytes,
	}
}

type CancelResponse struct {
	Cancelled PendingView `json:"cancelled"`
}

type HealthResponse struct {
	Status       string           `json:"status"`
	Store        string           `json:"store"`
	MXEPublicKey cipher.PublicKey `json:"mxe_public_key"`
	Subscribers  int              `json:"subscribers"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
