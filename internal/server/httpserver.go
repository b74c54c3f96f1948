package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Mahhheshh/confidential-battleship-game/internal/app"
	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/codec"
	"github.com/Mahhheshh/confidential-battleship-game/internal/events"
	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
	"github.com/Mahhheshh/confidential-battleship-game/internal/mxe"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
)

const (
	HeaderPlayer        = "X-Player"
	HeaderCallbackToken = "X-Callback-Token"

	maxBodyBytes = 64 << 10
)

// Coordinator is the game service as the HTTP layer uses it.
type Coordinator interface {
	CreateGame(ctx context.Context, ng app.NewGame) (app.Receipt, error)
	Initialize(ctx context.Context, id uuid.UUID, caller game.Principal) (app.Receipt, error)
	Game(ctx context.Context, id uuid.UUID) (*store.Snapshot, error)
	PlaceShips(ctx context.Context, id uuid.UUID, caller game.Principal, m app.Move) (app.Receipt, error)
	TakeTurn(ctx context.Context, id uuid.UUID, caller game.Principal, m app.Move) (app.Receipt, error)
	CancelStale(ctx context.Context, id uuid.UUID) (*store.Pending, error)
	HandleCallback(ctx context.Context, cb gateway.Callback) error
}

var _ Coordinator = (*app.Service)(nil)

type Server struct {
	svc           Coordinator
	hub           *events.Hub
	mxeKey        cipher.PublicKey
	callbackToken string
	storeName     string
	log           zerolog.Logger
}

type Option func(*Server)

func WithHub(h *events.Hub) Option { return func(s *Server) { s.hub = h } }

func WithMXEKey(k cipher.PublicKey) Option { return func(s *Server) { s.mxeKey = k } }

// WithCallbackToken enables the callback and cancel routes. Without a token
// they refuse every request.
func WithCallbackToken(tok string) Option { return func(s *Server) { s.callbackToken = tok } }

func WithStoreName(name string) Option { return func(s *Server) { s.storeName = name } }

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.log = l } }

func New(svc Coordinator, opts ...Option) *Server {
	s := &Server{svc: svc, storeName: "memory", log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Routes(mux *http.ServeMux) {
	// Player actions
	mux.HandleFunc("POST /v1/games", s.handleCreate)
	mux.HandleFunc("GET /v1/games/{id}", s.handleGame)
	mux.HandleFunc("POST /v1/games/{id}/initialize", s.handleInitialize)
	mux.HandleFunc("POST /v1/games/{id}/ships", s.handlePlaceShips)
	mux.HandleFunc("POST /v1/games/{id}/turns", s.handleTakeTurn)

	// Network and operator
	mux.HandleFunc("POST /v1/games/{id}/cancel", s.requireToken(s.handleCancel))
	mux.HandleFunc("POST /v1/callbacks", s.requireToken(s.handleCallback))

	if s.hub != nil {
		mux.Handle("GET /v1/events", s.hub)
	}
	mux.HandleFunc("GET /v1/health", s.handleHealth)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("bad json: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, codec.ErrorResponse{Error: msg, Code: "bad_request"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, codec.ErrorResponse{Error: err.Error(), Code: code})
}

// === Request helpers ===

func gameID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid game id %q", r.PathValue("id"))
	}
	return id, nil
}

// caller is the principal the request claims to act for. Signature checks
// belong to the ledger in front of this service.
func caller(r *http.Request) (game.Principal, error) {
	h := r.Header.Get(HeaderPlayer)
	if h == "" {
		return game.Principal{}, fmt.Errorf("missing %s header", HeaderPlayer)
	}
	p, err := game.ParsePrincipal(h)
	if err != nil {
		return game.Principal{}, fmt.Errorf("invalid %s header: %v", HeaderPlayer, err)
	}
	return p, nil
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(HeaderCallbackToken)
		if s.callbackToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.callbackToken)) != 1 {
			writeJSON(w, http.StatusForbidden, codec.ErrorResponse{Error: "invalid callback token", Code: "forbidden"})
			return
		}
		next(w, r)
	}
}

// === Games ===

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req codec.CreateGameRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if who != req.Player1 && who != req.Player2 {
		s.writeError(w, r, game.ErrUnauthorizedPlayer)
		return
	}
	res, err := s.svc.CreateGame(r.Context(), req.NewGame())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, codec.NewReceipt(res))
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	id, err := gameID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	snap, err := s.svc.Game(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codec.NewGameView(snap))
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	id, err := gameID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	who, err := caller(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := s.svc.Initialize(r.Context(), id, who)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, codec.NewReceipt(res))
}

type moveFunc func(ctx context.Context, id uuid.UUID, caller game.Principal, m app.Move) (app.Receipt, error)

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, submit moveFunc) {
	id, err := gameID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	who, err := caller(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	var req codec.MoveRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	res, err := submit(r.Context(), id, who, req.Move())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, codec.NewReceipt(res))
}

func (s *Server) handlePlaceShips(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.svc.PlaceShips)
}

func (s *Server) handleTakeTurn(w http.ResponseWriter, r *http.Request) {
	s.handleMove(w, r, s.svc.TakeTurn)
}

// === Network / operator ===

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := gameID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	p, err := s.svc.CancelStale(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, codec.CancelResponse{Cancelled: codec.PendingView{
		Offset: p.Offset, Kind: p.Kind, Role: p.Role, SubmittedAt: p.SubmittedAt,
	}})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req codec.CallbackRequest
	if err := readJSON(w, r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if err := s.svc.HandleCallback(r.Context(), req.Callback()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := codec.HealthResponse{Status: "ok", Store: s.storeName, MXEPublicKey: s.mxeKey}
	if s.hub != nil {
		resp.Subscribers = s.hub.Subscribers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// === Error mapping ===

var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{game.ErrUnauthorizedPlayer, http.StatusForbidden, "unauthorized_player"},
	{game.ErrCallbackAccount, http.StatusForbidden, "callback_account"},
	{game.ErrGameNotFound, http.StatusNotFound, "game_not_found"},
	{game.ErrUnknownComputation, http.StatusNotFound, "unknown_computation"},
	{game.ErrInvalidGameState, http.StatusConflict, "invalid_game_state"},
	{game.ErrInvalidTurn, http.StatusConflict, "invalid_turn"},
	{game.ErrComputationPending, http.StatusConflict, "computation_pending"},
	{game.ErrFleetNotInitialized, http.StatusConflict, "fleet_not_initialized"},
	{game.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{game.ErrComputationNotStale, http.StatusConflict, "computation_not_stale"},
	{game.ErrStaleComputation, http.StatusConflict, "stale_computation"},
	{game.ErrGameExists, http.StatusConflict, "game_exists"},
	{game.ErrDuplicateComputation, http.StatusConflict, "duplicate_computation"},
	{gateway.ErrAbortedComputation, http.StatusUnprocessableEntity, "aborted_computation"},
	{gateway.ErrMalformedResult, http.StatusUnprocessableEntity, "malformed_result"},
	{game.ErrInvalidMove, http.StatusBadRequest, "invalid_move"},
	{game.ErrSamePlayers, http.StatusBadRequest, "same_players"},
	{game.ErrInvalidPlayer, http.StatusBadRequest, "invalid_player"},
	{gateway.ErrUnknownKind, http.StatusBadRequest, "unknown_kind"},
	{mxe.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"},
}

func classify(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}
