// Package logger provides a structured zerolog logger for bambu-bridge.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Verbosity is the resolved output level of the bridge.
type Verbosity int

const (
	// Quiet shows status messages, warnings and errors only.
	Quiet Verbosity = iota
	// Normal adds one info line per forwarded packet.
	Normal
	// Verbose adds a full hexdump of every forwarded payload.
	Verbose
)

func (v Verbosity) String() string {
	switch v {
	case Quiet:
		return "quiet"
	case Verbose:
		return "verbose"
	default:
		return "normal"
	}
}

// StatusLevel is the value written to the level field of status events.
const StatusLevel = "status"

// Init creates a console logger on stderr for the given verbosity.
func Init(v Verbosity) zerolog.Logger {
	return New(os.Stderr, v)
}

// New creates a console logger writing to out. Colour is enabled only when
// out is a terminal.
func New(out io.Writer, v Verbosity) zerolog.Logger {
	noColor := true
	if f, ok := out.(*os.File); ok {
		noColor = !term.IsTerminal(int(f.Fd()))
	}

	w := zerolog.ConsoleWriter{
		Out:         out,
		NoColor:     noColor,
		TimeFormat:  "15:04:05",
		FormatLevel: formatLevel,
	}
	return zerolog.New(w).Level(Level(v)).With().Timestamp().Logger()
}

// Level maps a verbosity to the minimum zerolog level that is emitted.
func Level(v Verbosity) zerolog.Level {
	switch v {
	case Quiet:
		return zerolog.WarnLevel
	case Verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Status starts an event that is emitted at every verbosity.
func Status(log zerolog.Logger) *zerolog.Event {
	return log.Log().Str(zerolog.LevelFieldName, StatusLevel)
}

// Critical starts an event for unrecoverable errors. Unlike Fatal it does
// not exit the process.
func Critical(log zerolog.Logger) *zerolog.Event {
	return log.WithLevel(zerolog.FatalLevel)
}

func formatLevel(i interface{}) string {
	s, ok := i.(string)
	if !ok {
		return "???"
	}
	switch s {
	case StatusLevel:
		return "STS"
	case zerolog.LevelFatalValue:
		return "CRT"
	}
	if lvl, err := zerolog.ParseLevel(s); err == nil {
		if abbr, ok := zerolog.FormattedLevels[lvl]; ok {
			return abbr
		}
	}
	return strings.ToUpper(fmt.Sprintf("%.3s", s))
}
