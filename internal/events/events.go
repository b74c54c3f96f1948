package events

import (
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
)

type Type string

const (
	TypeGameCreated        Type = "game_created"
	TypeShipsPlaced        Type = "ships_placed"
	TypeGameStarted        Type = "game_started"
	TypeTurnResult         Type = "turn_result"
	TypeComputationAborted Type = "computation_aborted"
)

// Event is a fire-and-forget notification. Attributes carry only public
// values; nothing secret is ever put on an event.
type Event struct {
	Type       Type              `json:"type"`
	Game       uuid.UUID         `json:"game"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func GameCreated(id uuid.UUID, p1, p2 game.Principal) Event {
	return Event{Type: TypeGameCreated, Game: id, Attributes: map[string]string{
		"player1": p1.String(),
		"player2": p2.String(),
	}}
}

func ShipsPlaced(id uuid.UUID, by game.Role) Event {
	return Event{Type: TypeShipsPlaced, Game: id, Attributes: map[string]string{
		"by": by.String(),
	}}
}

func GameStarted(id uuid.UUID) Event {
	return Event{Type: TypeGameStarted, Game: id}
}

func TurnResult(id uuid.UUID, by game.Role, hit bool, shipsLeft [2]uint8, state game.State) Event {
	return Event{Type: TypeTurnResult, Game: id, Attributes: map[string]string{
		"by":                 by.String(),
		"hit":                strconv.FormatBool(hit),
		"player1_ships_left": strconv.Itoa(int(shipsLeft[game.Player1])),
		"player2_ships_left": strconv.Itoa(int(shipsLeft[game.Player2])),
		"state":              state.String(),
	}}
}

// ComputationAborted reports a computation that ended without changing the
// game, either because the network aborted it or an operator cancelled it.
func ComputationAborted(id uuid.UUID, kind string, offset uint64, reason string) Event {
	return Event{Type: TypeComputationAborted, Game: id, Attributes: map[string]string{
		"kind":   kind,
		"offset": strconv.FormatUint(offset, 10),
		"reason": reason,
	}}
}

// Notifier receives events. Notify must not block the caller for long and
// never fails the operation that produced the event.
type Notifier interface {
	Notify(e Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Nop drops every event.
var Nop Notifier = NotifierFunc(func(Event) {})

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	for _, n := range m {
		n.Notify(e)
	}
}

// Logger writes events as structured log lines.
type Logger struct {
	Log zerolog.Logger
}

func (l Logger) Notify(e Event) {
	ev := l.Log.Info().Str("event", string(e.Type)).Stringer("game", e.Game)
	for k, v := range e.Attributes {
		ev = ev.Str(k, v)
	}
	ev.Msg("game event")
}

// Recorder keeps events in memory; handy in tests and the play command.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
