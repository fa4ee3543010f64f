// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// maxLineLength bounds one input line. Longer lines fail the run.
const maxLineLength = 1 << 20

// Lines reads newline-delimited payloads from a reader. It is the
// operator's source: pipe a file in, or type payloads at a terminal.
type Lines struct {
	reader  io.Reader
	closer  io.Closer
	decoder *Decoder
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewLines returns a source reading from reader. If reader is also an
// io.Closer, Close closes it. A nil logger means slog.Default().
func NewLines(reader io.Reader, decoder *Decoder, logger *slog.Logger) *Lines {
	if logger == nil {
		logger = slog.Default()
	}
	lines := &Lines{reader: reader, decoder: decoder, logger: logger}
	if closer, ok := reader.(io.Closer); ok {
		lines.closer = closer
	}
	return lines
}

// OpenLines opens path for a Lines source. An empty path or "-" reads
// stdin, which Close leaves open.
func OpenLines(path string, decoder *Decoder, logger *slog.Logger) (*Lines, error) {
	if path == "" || path == "-" {
		return NewLines(io.NopCloser(os.Stdin), decoder, logger), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening line source: %w", err)
	}
	return NewLines(file, decoder, logger), nil
}

// Run delivers one payload per line, with the line terminator (LF or
// CRLF) removed, until EOF or cancellation. Empty lines are delivered
// as empty payloads.
//
// On cancellation Run closes the source and returns nil without waiting
// for the reader. A read that ignores Close, such as stdin blocked on a
// terminal, keeps the scanning goroutine alive until the read returns,
// and a line completed in that window may still reach sink after Run
// has returned. Callers that keep running afterwards must tolerate
// that; the tcpbridge command exits instead.
func (l *Lines) Run(ctx context.Context, sink Sink) error {
	done := make(chan error, 1)
	go func() {
		done <- l.scan(sink)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		l.Close()
		return nil
	}
}

func (l *Lines) scan(sink Sink) error {
	scanner := bufio.NewScanner(l.reader)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	count := 0
	for scanner.Scan() {
		count++
		l.decoder.Deliver(sink, []byte(strings.TrimSuffix(scanner.Text(), "\r")), "line", count)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading line %d: %w", count+1, err)
	}
	l.logger.Info("line source exhausted", "lines", count)
	return nil
}

// Close closes the underlying reader when it is closable.
func (l *Lines) Close() error {
	l.closeOnce.Do(func() {
		if l.closer != nil {
			l.closeErr = l.closer.Close()
		}
	})
	return l.closeErr
}
