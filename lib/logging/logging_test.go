// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	}
	for _, test := range tests {
		got, err := ParseLevel(test.input)
		if err != nil {
			t.Fatalf("ParseLevel(%q): %v", test.input, err)
		}
		if got != test.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", test.input, got, test.want)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestParseFormat(t *testing.T) {
	if format, err := ParseFormat(""); err != nil || format != FormatAuto {
		t.Fatalf("ParseFormat(\"\") = %q, %v", format, err)
	}
	if format, err := ParseFormat("JSON"); err != nil || format != FormatJSON {
		t.Fatalf("ParseFormat(JSON) = %q, %v", format, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

// A bytes.Buffer is never a terminal, so auto selects JSON.
func TestNewAutoUsesJSONForNonTerminal(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(&buffer, slog.LevelInfo, FormatAuto)
	logger.Info("forwarded", "session", "abc")

	var record map[string]any
	if err := json.Unmarshal(buffer.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %q (%v)", buffer.String(), err)
	}
	if record["msg"] != "forwarded" || record["session"] != "abc" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewTextAndLevelFilter(t *testing.T) {
	var buffer bytes.Buffer
	logger := New(&buffer, slog.LevelWarn, FormatText)
	logger.Info("hidden")
	logger.Warn("shown", "attempt", 1)

	output := buffer.String()
	if strings.Contains(output, "hidden") {
		t.Fatalf("info record passed a warn-level logger: %q", output)
	}
	if !strings.Contains(output, "msg=shown") || !strings.Contains(output, "attempt=1") {
		t.Fatalf("unexpected text output: %q", output)
	}
}
