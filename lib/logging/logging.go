// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the structured logger used by the tcpbridge
// binaries.
//
// Output goes through log/slog. When the destination is a terminal the
// text handler is used for readability; when it is piped or redirected
// (systemd, containers, CI) the JSON handler is used so records can be
// ingested. The format can also be forced.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Format selects the slog handler.
type Format string

const (
	// FormatAuto picks text for terminals and JSON otherwise.
	FormatAuto Format = "auto"
	// FormatText forces slog.TextHandler.
	FormatText Format = "text"
	// FormatJSON forces slog.JSONHandler.
	FormatJSON Format = "json"
)

// ParseLevel converts "debug", "info", "warn", or "error" (any case)
// to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// ParseFormat validates a format name. Empty means auto.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return FormatAuto, fmt.Errorf("unknown log format %q", name)
	}
}

// New returns a logger writing to output at level. A nil output means
// os.Stderr.
func New(output io.Writer, level slog.Level, format Format) *slog.Logger {
	if output == nil {
		output = os.Stderr
	}
	options := &slog.HandlerOptions{Level: level}

	useText := format == FormatText
	if format == FormatAuto {
		useText = isTerminal(output)
	}

	var handler slog.Handler
	if useText {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler)
}

// isTerminal reports whether output is a file attached to a terminal.
func isTerminal(output io.Writer) bool {
	file, ok := output.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
