package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/Mahhheshh/confidential-battleship-game/internal/app"
	"github.com/Mahhheshh/confidential-battleship-game/internal/cipher"
)

const (
	StageDev  = "dev"
	StageProd = "prod"
)

type Config struct {
	Stage           string
	HTTPAddr        string
	DatabaseURL     string // empty: in-memory store
	LogLevel        string
	LogFormat       string
	MXESecretKey    *cipher.PrivateKey
	CallbackToken   string
	PendingTimeout  time.Duration
	ExecutorWorkers int
	ExecutorQueue   int
}

// Load reads the configuration from the environment. Outside prod a .env file
// in the working directory is loaded first when present.
func Load() (Config, error) {
	if os.Getenv("STAGE") != StageProd {
		if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup. Unset keys take their defaults;
// malformed values are errors.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	c := Config{
		Stage:         get("STAGE", StageDev),
		HTTPAddr:      get("HTTP_ADDR", ":8080"),
		DatabaseURL:   get("DATABASE_URL", ""),
		LogLevel:      get("LOG_LEVEL", "info"),
		LogFormat:     get("LOG_FORMAT", "console"),
		CallbackToken: get("CALLBACK_TOKEN", ""),
	}
	if c.Stage != StageDev && c.Stage != StageProd {
		return Config{}, fmt.Errorf("STAGE must be either %s or %s, got %q", StageDev, StageProd, c.Stage)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be console or json, got %q", c.LogFormat)
	}

	var err error
	if c.PendingTimeout, err = time.ParseDuration(get("PENDING_TIMEOUT", app.DefaultPendingTimeout.String())); err != nil {
		return Config{}, fmt.Errorf("PENDING_TIMEOUT: %w", err)
	}
	if c.PendingTimeout <= 0 {
		return Config{}, fmt.Errorf("PENDING_TIMEOUT must be positive, got %s", c.PendingTimeout)
	}
	if c.ExecutorWorkers, err = positiveInt(get("EXECUTOR_WORKERS", "2")); err != nil {
		return Config{}, fmt.Errorf("EXECUTOR_WORKERS: %w", err)
	}
	if c.ExecutorQueue, err = positiveInt(get("EXECUTOR_QUEUE", "64")); err != nil {
		return Config{}, fmt.Errorf("EXECUTOR_QUEUE: %w", err)
	}

	if s := get("MXE_SECRET_KEY", ""); s != "" {
		k, err := cipher.ParsePrivateKey(s)
		if err != nil {
			return Config{}, fmt.Errorf("MXE_SECRET_KEY: %w", err)
		}
		c.MXESecretKey = &k
	}

	if c.Stage == StageProd {
		if c.MXESecretKey == nil {
			return Config{}, errors.New("MXE_SECRET_KEY is required in prod")
		}
		if c.CallbackToken == "" {
			return Config{}, errors.New("CALLBACK_TOKEN is required in prod")
		}
	}
	if _, err := c.Logger(io.Discard); err != nil {
		return Config{}, err
	}
	return c, nil
}

// MXEKeys returns the configured network key pair, or a fresh one when no
// secret is set.
func (c Config) MXEKeys() (cipher.KeyPair, error) {
	if c.MXESecretKey == nil {
		return cipher.GenerateKeyPair()
	}
	return cipher.KeyPairFromPrivate(*c.MXESecretKey)
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("must be positive, got %d", n)
	}
	return n, nil
}
