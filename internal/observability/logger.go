package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger builds the process logger. format is "text" for a console writer
// or "json"; level falls back to info when it does not parse.
func InitLogger(app, level, format string) zerolog.Logger {
	return NewLogger(os.Stderr, app, level, format)
}

func NewLogger(out io.Writer, app, level, format string) zerolog.Logger {
	if strings.EqualFold(strings.TrimSpace(format), "text") || strings.TrimSpace(format) == "" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
