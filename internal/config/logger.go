package config

import (
	"fmt"
	"io"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/rs/zerolog"
)

// Logger builds the process logger writing to w. Console output is for
// humans; json for log shippers.
func (c Config) Logger(w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.LogFormat == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// RouteCircuitLogs sends the circuit compiler's output through l at debug
// level, or silences it when debug is off.
func RouteCircuitLogs(l zerolog.Logger) {
	if l.GetLevel() > zerolog.DebugLevel {
		gnarklogger.Disable()
		return
	}
	gnarklogger.Set(l.With().Str("component", "gnark").Logger())
}
