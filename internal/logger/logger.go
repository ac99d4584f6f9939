package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Setup builds the process logger on stdout.
//   - level: trace, debug, info, warn, error, fatal, panic (unknown means info)
//   - format: "json" for production, "pretty" for human-readable dev output
//
// The logger also becomes zerolog's default context logger, so zerolog.Ctx on a
// context without a request logger still writes somewhere useful.
func Setup(level, format string) zerolog.Logger {
	log := New(os.Stdout, level, format)
	zerolog.DefaultContextLogger = &log
	return log
}

// New builds the same logger as Setup on an arbitrary writer. Pretty output is
// colored only when out is a terminal.
func New(out io.Writer, level, format string) zerolog.Logger {
	writer := out
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    !isTerminal(out),
		}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Str("service", "exstem-proctor").
		Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
