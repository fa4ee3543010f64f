// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peer

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tcpbridge/bridge"
	"github.com/bureau-foundation/tcpbridge/lib/clock"
	"github.com/bureau-foundation/tcpbridge/lib/netutil"
)

// Server accepts bridge connections and answers each line.
type Server struct {
	// ListenAddr is the TCP address to listen on (e.g. "127.0.0.1:9000").
	ListenAddr string

	// TLS, when non-nil, wraps every accepted connection in a TLS
	// server session.
	TLS *tls.Config

	// Validate, when set, screens every non-empty, non-sentinel line.
	Validate Validator

	// Pipeline replaces the standard decode, validate, and respond
	// stages. Decode and Respond are required when it is set; a zero
	// Pipeline means NewPipeline(Validate).
	Pipeline Pipeline

	// OnPayload, when set, is called with every accepted payload from
	// the connection's goroutine.
	OnPayload func(payload string)

	// Hostname appears in the greeting. Empty means os.Hostname().
	Hostname string

	// Clock supplies the greeting timestamp. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-line events are logged at Debug; connection lifecycle
	// at Info.
	Logger *slog.Logger

	pipeline    Pipeline
	listener    net.Listener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup

	accepted atomic.Uint64
	rejected atomic.Uint64
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Server) clock() clock.Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return clock.Real()
}

// Start binds the listener and begins accepting in the background. It
// returns once the listener is bound, or the bind error. The server
// runs until Stop is called or ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.ListenAddr == "" {
		return fmt.Errorf("peer: ListenAddr is required")
	}
	if s.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		s.Hostname = hostname
	}

	s.pipeline = s.Pipeline
	if s.pipeline.Decode == nil {
		s.pipeline = NewPipeline(s.Validate)
	}

	listener, err := net.Listen("tcp", s.ListenAddr)
	if err != nil {
		return fmt.Errorf("peer: failed to listen on %s: %w", s.ListenAddr, err)
	}
	if s.TLS != nil {
		listener = tls.NewListener(listener, s.TLS)
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	// Cancellation of the caller's context also closes the listener so
	// Accept returns.
	context.AfterFunc(ctx, func() { listener.Close() })

	go func() {
		defer close(s.done)
		s.acceptLoop(ctx)
	}()

	s.logger().Info("peer listening",
		"listen_addr", listener.Addr().String(),
		"tls", s.TLS != nil,
	)
	return nil
}

// Addr returns the listener's address, useful when binding to port 0.
// Returns nil if the server has not been started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection, then waits for
// the connection goroutines to finish.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.Wait()
}

// Wait blocks until the server has stopped.
func (s *Server) Wait() {
	if s.done != nil {
		<-s.done
	}
}

// Accepted returns the number of payloads answered with "+OK".
func (s *Server) Accepted() uint64 { return s.accepted.Load() }

// Rejected returns the number of lines answered with "-ERR".
func (s *Server) Rejected() uint64 { return s.rejected.Load() }

// acceptLoop accepts connections until the listener closes. It waits
// for all connection goroutines before returning, so closing done
// signals full quiescence.
func (s *Server) acceptLoop(ctx context.Context) {
	var connectionCount int64

	for {
		connection, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.connections.Wait()
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				s.connections.Wait()
				return
			}
			s.logger().Error("accept failed", "error", err)
			continue
		}

		connectionCount++
		connectionID := connectionCount
		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.handleConnection(ctx, connection, connectionID)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, connection net.Conn, connectionID int64) {
	defer connection.Close()
	stop := context.AfterFunc(ctx, func() { connection.Close() })
	defer stop()

	logger := s.logger().With("connection_id", connectionID)
	logger.Info("connection accepted", "remote_addr", connection.RemoteAddr())

	writer := bufio.NewWriter(connection)
	reply := func(line string) bool {
		writer.WriteString(line)
		writer.WriteString(bridge.Delimiter)
		if err := writer.Flush(); err != nil {
			if !netutil.IsExpectedCloseError(err) {
				logger.Debug("reply failed", "error", err)
			}
			return false
		}
		return true
	}

	greeting := fmt.Sprintf("+HELLO %s %s", s.Hostname, s.clock().Now().UTC().Format(time.RFC3339))
	if !reply(greeting) {
		return
	}

	scanner := bufio.NewScanner(connection)
	scanner.Buffer(make([]byte, 0, 4096), bridge.MaxFrameSize)
	lines := 0
	for scanner.Scan() {
		lines++
		response := s.respond(scanner.Bytes(), logger)
		if !reply(response.Line) {
			return
		}
		if response.HangUp {
			logger.Info("connection closed", "lines", lines, "reason", "sentinel")
			return
		}
	}

	err := scanner.Err()
	switch {
	case errors.Is(err, bufio.ErrTooLong):
		s.rejected.Add(1)
		reply("-ERR frame too long")
		logger.Warn("frame exceeds limit, closing", "limit", bridge.MaxFrameSize)
		discardAndClose(connection)
	case err != nil && !netutil.IsExpectedCloseError(err):
		logger.Warn("read failed", "error", err)
	default:
		logger.Info("connection closed", "lines", lines, "reason", "client hung up")
	}
}

// respond runs one line through the pipeline and updates the counters.
func (s *Server) respond(frame []byte, logger *slog.Logger) Reply {
	reply := s.pipeline.Handle(frame)
	// Same digest the bridge logs for the payload it sent.
	digest := bridge.Message{Payload: strings.TrimSuffix(string(frame), "\r")}.Digest()
	switch {
	case reply.Accepted():
		s.accepted.Add(1)
		logger.Debug("payload accepted", "digest", digest, "bytes", len(frame))
		if s.OnPayload != nil {
			payload, _ := s.pipeline.Decode(frame)
			s.OnPayload(payload)
		}
	case reply.Rejected():
		s.rejected.Add(1)
		logger.Debug("payload rejected", "digest", digest, "reply", reply.Line)
	}
	return reply
}

// closeWriter is implemented by *net.TCPConn and *tls.Conn.
type closeWriter interface {
	CloseWrite() error
}

// discardAndClose half-closes the connection and reads off whatever
// the client already sent, for at most a second. Closing with unread
// input makes the kernel send a reset, which can destroy the final
// reply before the client reads it.
func discardAndClose(connection net.Conn) {
	if writer, ok := connection.(closeWriter); ok {
		writer.CloseWrite()
	}
	connection.SetReadDeadline(time.Now().Add(time.Second)) //nolint:realclock kernel socket deadline
	io.Copy(io.Discard, connection)
	connection.Close()
}
