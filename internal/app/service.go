package app

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/events"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
)

const (
	DefaultPendingTimeout = 2 * time.Minute

	// attempts at drawing an unused computation offset
	offsetAttempts = 3
)

// OffsetSource draws computation offsets. Offsets must be unique across the
// deployment while in flight.
type OffsetSource func() (uint64, error)

func RandomOffset() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// Service coordinates games: it guards and forwards moves to the compute
// network and applies the results that come back through HandleCallback.
type Service struct {
	store   store.Store
	network gateway.Network
	notify  events.Notifier
	log     zerolog.Logger
	now     func() time.Time
	offsets OffsetSource
	timeout time.Duration
}

var _ gateway.CallbackHandler = (*Service)(nil)

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithNotifier(n events.Notifier) Option {
	return func(s *Service) { s.notify = n }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithOffsets(src OffsetSource) Option {
	return func(s *Service) { s.offsets = src }
}

// WithPendingTimeout sets how long a computation may stay in flight before
// CancelStale may clear it.
func WithPendingTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func New(st store.Store, network gateway.Network, opts ...Option) *Service {
	s := &Service{
		store:   st,
		network: network,
		notify:  events.Nop,
		log:     zerolog.Nop(),
		now:     time.Now,
		offsets: RandomOffset,
		timeout: DefaultPendingTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type NewGame struct {
	Player1    game.Principal
	Player2    game.Principal
	Player1Key cipher.PublicKey
	Player2Key cipher.PublicKey
}

// Receipt identifies a submitted computation.
type Receipt struct {
	Game   uuid.UUID
	Offset uint64
	Kind   gateway.Kind
}

// CreateGame stores a fresh record and queues the computation that seals its
// initial fleet. The game is removed again if the network refuses the
// request.
func (s *Service) CreateGame(ctx context.Context, ng NewGame) (Receipt, error) {
	rec, err := game.NewRecord(ng.Player1, ng.Player2, ng.Player1Key, ng.Player2Key)
	if err != nil {
		return Receipt{}, err
	}
	nonce, err := cipher.NewNonce()
	if err != nil {
		return Receipt{}, err
	}
	id := uuid.New()

	var req gateway.Request
	for attempt := 0; ; attempt++ {
		offset, err := s.offsets()
		if err != nil {
			return Receipt{}, err
		}
		p := s.pending(id, offset, gateway.KindInitialize, game.Player1, cipher.Nonce{})
		err = s.store.Create(ctx, id, rec, p)
		if errors.Is(err, game.ErrDuplicateComputation) && attempt+1 < offsetAttempts {
			continue
		}
		if err != nil {
			return Receipt{}, err
		}
		req = request(p, gateway.InitializeArgs(nonce))
		break
	}

	if err := s.network.Submit(ctx, req); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), id); derr != nil {
			s.log.Error().Err(derr).Stringer("game", id).Msg("remove game after refused submit")
		}
		return Receipt{}, fmt.Errorf("submit %s: %w", req.Kind, err)
	}

	s.log.Info().Stringer("game", id).Uint64("offset", req.Offset).
		Str("player1", ng.Player1.String()).Str("player2", ng.Player2.String()).
		Msg("game created")
	s.notify.Notify(events.GameCreated(id, ng.Player1, ng.Player2))
	return Receipt{Game: id, Offset: req.Offset, Kind: req.Kind}, nil
}

// Initialize queues a fresh initialize computation for a game whose first one
// was aborted or cancelled.
func (s *Service) Initialize(ctx context.Context, id uuid.UUID, caller game.Principal) (Receipt, error) {
	nonce, err := cipher.NewNonce()
	if err != nil {
		return Receipt{}, err
	}
	return s.enqueue(ctx, id, gateway.KindInitialize, func(rec *game.Record) (game.Role, []gateway.Argument, error) {
		role, ok := rec.RoleOf(caller)
		if !ok {
			return 0, nil, game.ErrUnauthorizedPlayer
		}
		if rec.Initialized {
			return 0, nil, game.ErrAlreadyInitialized
		}
		return role, gateway.InitializeArgs(nonce), nil
	})
}

func (s *Service) Game(ctx context.Context, id uuid.UUID) (*store.Snapshot, error) {
	return s.store.Get(ctx, id)
}

// CancelStale drops a computation that has been in flight longer than the
// pending timeout. A late callback for it is then rejected as unknown and the
// players may resubmit.
func (s *Service) CancelStale(ctx context.Context, id uuid.UUID) (*store.Pending, error) {
	var cancelled *store.Pending
	err := s.store.Update(ctx, id, func(snap *store.Snapshot) error {
		p := snap.Pending
		if p == nil {
			return fmt.Errorf("%w: game %s has none", game.ErrUnknownComputation, id)
		}
		if age := s.now().Sub(p.SubmittedAt); age < s.timeout {
			return fmt.Errorf("%w: in flight for %s", game.ErrComputationNotStale, age.Truncate(time.Second))
		}
		cancelled = p
		snap.Pending = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Warn().Stringer("game", id).Uint64("offset", cancelled.Offset).
		Stringer("kind", cancelled.Kind).Time("submitted_at", cancelled.SubmittedAt).
		Msg("stale computation cancelled")
	s.notify.Notify(events.ComputationAborted(id, cancelled.Kind.String(), cancelled.Offset, "cancelled"))
	return cancelled, nil
}

func (s *Service) pending(id uuid.UUID, offset uint64, kind gateway.Kind, role game.Role, fleetNonce cipher.Nonce) *store.Pending {
	return &store.Pending{
		Offset:      offset,
		Game:        id,
		Kind:        kind,
		Role:        role,
		FleetNonce:  fleetNonce,
		Accounts:    []gateway.CallbackAccount{{Game: id, Writable: true}},
		SubmittedAt: s.now().UTC(),
	}
}

func request(p *store.Pending, args []gateway.Argument) gateway.Request {
	return gateway.Request{Kind: p.Kind, Offset: p.Offset, Args: args, Callback: p.Accounts}
}
