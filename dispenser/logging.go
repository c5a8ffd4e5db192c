package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/itohio/godispense/pkg/diag"
)

// warnTags mark diagnostic lines that report a fault.
var warnTags = map[string]bool{
	"WATCHDOG": true,
	"RESET":    true,
	"LINK":     true,
	"PUMP":     true,
	"LED":      true,
}

// setupLogging installs a console zerolog logger on out and routes the
// controller's diagnostic stream through it.
func setupLogging(out io.Writer, level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}).
		With().Timestamp().Logger()
	diag.SetLogger(diagLogf)
	return nil
}

// diagLogf turns "[TAG] text" diagnostic lines into structured events.
func diagLogf(format string, v ...any) {
	tag, msg := splitTag(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))

	ev := log.Info()
	if warnTags[tag] || strings.Contains(msg, "timeout") {
		ev = log.Warn()
	}
	if tag != "" {
		ev = ev.Str("tag", tag)
	}
	ev.Msg(msg)
}

func splitTag(line string) (tag, msg string) {
	if !strings.HasPrefix(line, "[") {
		return "", line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return "", line
	}
	return line[1:end], strings.TrimSpace(line[end+1:])
}
