package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Mahhheshh/confidential-battleship-game/internal/app"
	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
	"github.com/Mahhheshh/confidential-battleship-game/internal/config"
	"github.com/Mahhheshh/confidential-battleship-game/internal/events"
	"github.com/Mahhheshh/confidential-battleship-game/internal/mxe"
	"github.com/Mahhheshh/confidential-battleship-game/internal/server"
	"github.com/Mahhheshh/confidential-battleship-game/internal/store"
	"github.com/Mahhheshh/confidential-battleship-game/internal/zk"
)

const shutdownGrace = 10 * time.Second

var cli = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = cmdKeygen()
	case "serve":
		err = cmdServe()
	case "migrate":
		err = cmdMigrate()
	case "play":
		err = cmdPlay()
	default:
		usage()
	}
	if err != nil {
		cli.Fatal().Err(err).Str("command", os.Args[1]).Msg("failed")
	}
}

func usage() {
	fmt.Println(`Confidential Battleship coordinator

Commands:
  keygen  --out keys.json
  serve   [--addr :8080]            (configured from the environment / .env)
  migrate [--database URL]
  play    [--verbose]               (scripted match against the local compute network)
`)
}

func cmdKeygen() error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "keys.json", "output key pair file")
	_ = fs.Parse(os.Args[2:])

	kp, err := cipher.GenerateKeyPair()
	if err != nil {
		return err
	}
	if err := saveJSON(*out, kp); err != nil {
		return err
	}
	fmt.Println("✓ wrote", *out)
	fmt.Println("public key:", kp.Public)
	return nil
}

func cmdMigrate() error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbURL := fs.String("database", "", "postgres URL (defaults to DATABASE_URL)")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *dbURL == "" {
		*dbURL = cfg.DatabaseURL
	}
	if *dbURL == "" {
		return errors.New("no database: pass --database or set DATABASE_URL")
	}
	db, err := store.Connect(context.Background(), *dbURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return store.Migrate(db, cli)
}

func cmdServe() error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (defaults to HTTP_ADDR)")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	config.RouteCircuitLogs(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := zk.Warm(); err != nil {
		return fmt.Errorf("compile placement circuit: %w", err)
	}

	st, storeName, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	keys, err := cfg.MXEKeys()
	if err != nil {
		return err
	}
	if cfg.MXESecretKey == nil {
		logger.Warn().Msg("MXE_SECRET_KEY not set, using an ephemeral network key")
	}
	x, err := mxe.New(keys, st,
		mxe.WithWorkers(cfg.ExecutorWorkers),
		mxe.WithQueueSize(cfg.ExecutorQueue),
		mxe.WithLogger(logger.With().Str("component", "mxe").Logger()),
	)
	if err != nil {
		return err
	}

	hub := events.NewHub(events.WithHubLogger(logger.With().Str("component", "hub").Logger()))
	svc := app.New(st, x,
		app.WithLogger(logger.With().Str("component", "app").Logger()),
		app.WithNotifier(events.Multi{events.Logger{Log: logger}, hub}),
		app.WithPendingTimeout(cfg.PendingTimeout),
	)

	srv := server.New(svc,
		server.WithHub(hub),
		server.WithMXEKey(x.PublicKey()),
		server.WithCallbackToken(cfg.CallbackToken),
		server.WithStoreName(storeName),
		server.WithLogger(logger.With().Str("component", "http").Logger()),
	)
	mux := http.NewServeMux()
	srv.Routes(mux)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.WithAccessLog(logger, server.WithCORS(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return x.Run(ctx, svc)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("store", storeName).
			Stringer("mxe_public_key", x.PublicKey()).Str("stage", cfg.Stage).Msg("serving")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// websocket connections are hijacked; Shutdown does not see them
		hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})
	err = g.Wait()
	logger.Info().Msg("stopped")
	return err
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Store, string, error) {
	if cfg.DatabaseURL == "" {
		return store.NewMemory(), "memory", nil
	}
	db, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}
	if err := store.Migrate(db, logger.With().Str("component", "migrate").Logger()); err != nil {
		db.Close()
		return nil, "", err
	}
	return store.NewPostgres(db), "postgres", nil
}

func saveJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
