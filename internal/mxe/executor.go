package mxe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
)

var ErrQueueFull = errors.New("computation queue is full")

// AccountReader gives the network read access to stored records.
type AccountReader interface {
	Account(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// Env is what a computation definition may use.
type Env struct {
	Keys     cipher.KeyPair
	StateKey cipher.Key
	Accounts AccountReader
}

// Definition evaluates one computation kind and returns its result bytes. Any
// error aborts the computation.
type Definition func(ctx context.Context, env *Env, args []gateway.Argument) ([]byte, error)

// Executor is an in-process confidential compute network. Requests are queued
// by Submit and evaluated by the workers started with Run, which deliver each
// result to the callback handler.
type Executor struct {
	env     *Env
	defs    map[gateway.Kind]Definition
	queue   chan gateway.Request
	workers int
	log     zerolog.Logger
}

var _ gateway.Network = (*Executor)(nil)

type Option func(*Executor)

func WithWorkers(n int) Option {
	return func(x *Executor) {
		if n > 0 {
			x.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(x *Executor) {
		if n > 0 {
			x.queue = make(chan gateway.Request, n)
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(x *Executor) { x.log = l }
}

// WithDefinition registers or replaces the definition for kind.
func WithDefinition(kind gateway.Kind, def Definition) Option {
	return func(x *Executor) { x.defs[kind] = def }
}

func New(keys cipher.KeyPair, accounts AccountReader, opts ...Option) (*Executor, error) {
	stateKey, err := keys.StateKey()
	if err != nil {
		return nil, err
	}
	x := &Executor{
		env:     &Env{Keys: keys, StateKey: stateKey, Accounts: accounts},
		defs:    make(map[gateway.Kind]Definition),
		queue:   make(chan gateway.Request, 64),
		workers: 2,
		log:     zerolog.Nop(),
	}
	x.defs[gateway.KindInitialize] = InitializeFleet
	x.defs[gateway.KindPlaceShips] = PlaceShips
	x.defs[gateway.KindTakeTurn] = TakeTurn
	for _, o := range opts {
		o(x)
	}
	return x, nil
}

// PublicKey is the key players derive their shared input key against.
func (x *Executor) PublicKey() cipher.PublicKey { return x.env.Keys.Public }

func (x *Executor) Submit(ctx context.Context, req gateway.Request) error {
	if _, ok := x.defs[req.Kind]; !ok {
		return fmt.Errorf("%w: %s", gateway.ErrUnknownKind, req.Kind)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case x.queue <- req:
		x.log.Debug().Uint64("offset", req.Offset).Stringer("kind", req.Kind).Msg("computation queued")
		return nil
	default:
		return ErrQueueFull
	}
}

// Run evaluates queued computations until ctx is cancelled.
func (x *Executor) Run(ctx context.Context, h gateway.CallbackHandler) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < x.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case req := <-x.queue:
					x.deliver(ctx, h, req)
				}
			}
		})
	}
	return g.Wait()
}

func (x *Executor) deliver(ctx context.Context, h gateway.CallbackHandler, req gateway.Request) {
	cb := gateway.Callback{
		Offset:   req.Offset,
		Kind:     req.Kind,
		Accounts: req.Callback,
		Output:   x.Execute(ctx, req),
	}
	if err := h.HandleCallback(ctx, cb); err != nil {
		x.log.Warn().Err(err).Uint64("offset", req.Offset).Stringer("kind", req.Kind).Msg("callback rejected")
	}
}

// Execute evaluates req synchronously.
func (x *Executor) Execute(ctx context.Context, req gateway.Request) gateway.Output {
	def, ok := x.defs[req.Kind]
	if !ok {
		x.log.Warn().Uint64("offset", req.Offset).Stringer("kind", req.Kind).Msg("no definition, aborting")
		return gateway.AbortOutput()
	}
	out, err := def(ctx, x.env, req.Args)
	if err != nil {
		x.log.Info().Err(err).Uint64("offset", req.Offset).Stringer("kind", req.Kind).Msg("computation aborted")
		return gateway.AbortOutput()
	}
	x.log.Debug().Uint64("offset", req.Offset).Stringer("kind", req.Kind).Int("bytes", len(out)).Msg("computation finished")
	return gateway.BytesOutput(out)
}
