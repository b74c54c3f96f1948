package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/Mahhheshh/confidential-battleship-game/internal/game"
	"github.com/Mahhheshh/confidential-battleship-game/internal/gateway"
)

const (
	maxOpenConns = 50
	maxIdleConns = 10
	connMaxLife  = time.Minute * 15

	uniqueViolation = "23505"
)

// Postgres stores one row per game in games and the in-flight computation,
// if any, in computations. Updates lock the game row for the transaction.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Connect opens and pings a pooled connection.
func Connect(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLife)
	return db, nil
}

func (s *Postgres) Close() error { return s.db.Close() }

func (s *Postgres) Create(ctx context.Context, id uuid.UUID, rec *game.Record, p *Pending) error {
	b, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO games (id, record, state) VALUES ($1, $2, $3)`,
		id, b, int(rec.State))
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", game.ErrGameExists, id)
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	if p != nil {
		if err := insertPending(ctx, tx, id, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Postgres) Get(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	return readSnapshot(ctx, s.db, id, `SELECT record FROM games WHERE id = $1`)
}

func (s *Postgres) Update(ctx context.Context, id uuid.UUID, fn func(*Snapshot) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	snap, err := readSnapshot(ctx, tx, id, `SELECT record FROM games WHERE id = $1 FOR UPDATE`)
	if err != nil {
		return err
	}
	before := snap.Pending
	if err := fn(snap); err != nil {
		return err
	}

	b, err := snap.Record.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE games SET record = $2, state = $3, updated_at = now() WHERE id = $1`,
		id, b, int(snap.Record.State))
	if err != nil {
		return fmt.Errorf("update game: %w", err)
	}

	removed, added := pendingChanged(before, snap.Pending)
	if removed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM computations WHERE game_id = $1`, id); err != nil {
			return fmt.Errorf("clear computation: %w", err)
		}
	}
	if added {
		if err := insertPending(ctx, tx, id, snap.Pending); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Postgres) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", game.ErrGameNotFound, id)
	}
	return nil
}

func (s *Postgres) Computation(ctx context.Context, offset uint64) (*Pending, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT game_id, kind, role, fleet_nonce, accounts, submitted_at FROM computations WHERE comp_offset = $1`,
		int64(offset))
	p := Pending{Offset: offset}
	err := scanPending(row, &p.Game, &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", game.ErrUnknownComputation, offset)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) Account(ctx context.Context, id uuid.UUID) ([]byte, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM games WHERE id = $1`, id).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", game.ErrGameNotFound, id)
	}
	return b, err
}

func readSnapshot(ctx context.Context, q queryer, id uuid.UUID, recordQuery string) (*Snapshot, error) {
	var b []byte
	err := q.QueryRowContext(ctx, recordQuery, id).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", game.ErrGameNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read game: %w", err)
	}
	rec, err := game.Decode(b)
	if err != nil {
		return nil, err
	}

	row := q.QueryRowContext(ctx,
		`SELECT comp_offset, kind, role, fleet_nonce, accounts, submitted_at FROM computations WHERE game_id = $1`,
		id)
	p := Pending{Game: id}
	var offset int64
	err = scanPending(row, &offset, &p)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &Snapshot{ID: id, Record: rec}, nil
	case err != nil:
		return nil, fmt.Errorf("read computation: %w", err)
	}
	p.Offset = uint64(offset)
	return &Snapshot{ID: id, Record: rec, Pending: &p}, nil
}

// scanPending reads (key, kind, role, fleet_nonce, accounts, submitted_at);
// key is the game id or the offset depending on the query.
func scanPending(row *sql.Row, key any, p *Pending) error {
	var (
		kind, role int16
		nonce      []byte
		accounts   pqtype.NullRawMessage
	)
	if err := row.Scan(key, &kind, &role, &nonce, &accounts, &p.SubmittedAt); err != nil {
		return err
	}
	if len(nonce) != len(p.FleetNonce) {
		return fmt.Errorf("%w: fleet nonce is %d bytes", game.ErrInvalidRecord, len(nonce))
	}
	copy(p.FleetNonce[:], nonce)
	p.Kind = gateway.Kind(kind)
	p.Role = game.Role(role)
	if accounts.Valid {
		if err := json.Unmarshal(accounts.RawMessage, &p.Accounts); err != nil {
			return fmt.Errorf("%w: accounts: %v", game.ErrInvalidRecord, err)
		}
	}
	return nil
}

func insertPending(ctx context.Context, q queryer, id uuid.UUID, p *Pending) error {
	accounts := pqtype.NullRawMessage{}
	if len(p.Accounts) > 0 {
		raw, err := json.Marshal(p.Accounts)
		if err != nil {
			return err
		}
		accounts = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO computations (comp_offset, game_id, kind, role, fleet_nonce, accounts, submitted_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		int64(p.Offset), id, int(p.Kind), int(p.Role), p.FleetNonce[:], accounts, p.SubmittedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %d", game.ErrDuplicateComputation, p.Offset)
	}
	if err != nil {
		return fmt.Errorf("insert computation: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
