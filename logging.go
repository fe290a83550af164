package chatroom

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Structured log field names.
const (
	FieldRoomID      = "room_id"
	FieldUserID      = "user_id"
	FieldMessageID   = "message_id"
	FieldCounterpart = "counterpart_id"
	FieldPage        = "page"
	FieldAttempt     = "attempt"
	FieldDelay       = "delay_ms"
	FieldEvent       = "event"
	FieldRequestID   = "request_id"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatus      = "status"
	FieldLatency     = "latency_ms"
)

// LogConfig configures NewLogger.
type LogConfig struct {
	Level  string
	Pretty bool
	Output io.Writer
}

// NewLogger builds a zerolog logger. The SDK itself logs nothing unless a
// logger is passed in through one of the WithLogger options.
func NewLogger(cfg LogConfig) zerolog.Logger {
	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
