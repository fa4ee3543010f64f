// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nuid"

	"github.com/bureau-foundation/tcpbridge/lib/clock"
	"github.com/bureau-foundation/tcpbridge/lib/netutil"
)

// ConnectionState is the lifecycle position of a Connection.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closing
	Closed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}

// ConnectionConfig configures a Connection.
type ConnectionConfig struct {
	// Address is the peer's host:port.
	Address string

	// Dial holds the connect timeout, socket options, and optional
	// TLS configuration.
	Dial netutil.DialOptions

	// WriteTimeout bounds each Send. Zero means no deadline.
	WriteTimeout time.Duration

	// CloseLinger is how long Close waits, after sending the
	// sentinel, for the peer to hang up first.
	CloseLinger time.Duration

	// OnProtocolError receives every rejected payload, both those
	// refused locally by Send and those the peer answers with an
	// error line. It is called from the loop goroutine or the
	// response reader goroutine and must be safe for concurrent use.
	OnProtocolError func(*ProtocolError)

	// Clock drives the close linger. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives lifecycle events at Info and per-line events
	// at Debug. Nil means slog.Default().
	Logger *slog.Logger
}

// Connection owns the single outbound connection to the peer. It is
// driven by one goroutine (the forwarding loop); State may be read
// from anywhere.
//
// While connected, a background goroutine reads the peer's reply lines
// so the socket's receive buffer never fills. Close joins it.
type Connection struct {
	config ConnectionConfig
	clock  clock.Clock
	logger *slog.Logger

	state atomic.Int32

	connection net.Conn
	writer     *bufio.Writer
	session    string
	readerDone chan struct{}
}

// NewConnection returns a Disconnected connection. Nothing is dialed
// until EnsureConnected.
func NewConnection(config ConnectionConfig) *Connection {
	connection := &Connection{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
	}
	if connection.clock == nil {
		connection.clock = clock.Real()
	}
	if connection.logger == nil {
		connection.logger = slog.Default()
	}
	connection.logger = connection.logger.With("peer", config.Address)
	return connection
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) setState(state ConnectionState) {
	c.state.Store(int32(state))
}

// Session returns the identifier of the current (or most recent)
// connection, as used in log records. Empty before the first connect.
// Only the driving goroutine may call it while the loop is running.
func (c *Connection) Session() string {
	return c.session
}

// EnsureConnected dials the peer unless already connected. It blocks
// until the connect succeeds or fails and never retries. After Close
// it always fails.
func (c *Connection) EnsureConnected(ctx context.Context) error {
	switch c.State() {
	case Connected:
		return nil
	case Closing, Closed:
		return &ConnectionError{Address: c.config.Address, Err: ErrClosed}
	}

	c.setState(Connecting)
	connection, err := netutil.Dial(ctx, c.config.Address, c.config.Dial)
	if err != nil {
		c.setState(Disconnected)
		if ctx.Err() != nil {
			return &InterruptError{Op: "connect", Err: ctx.Err()}
		}
		return &ConnectionError{Address: c.config.Address, Err: err}
	}

	c.connection = connection
	c.writer = bufio.NewWriterSize(connection, MaxFrameSize)
	c.session = nuid.Next()
	c.readerDone = make(chan struct{})

	logger := c.logger.With("session", c.session)
	go c.readResponses(connection, c.readerDone, logger)

	c.setState(Connected)
	logger.Info("connected to peer", "local_addr", connection.LocalAddr())
	return nil
}

// Send writes payload followed by CRLF and flushes. Payloads that
// cannot be framed as a single line are refused with a ProtocolError
// before anything is written. A failed write, or a peer that has
// already hung up, releases the connection and returns a WriteError; cancellation of ctx during the write
// returns an InterruptError.
func (c *Connection) Send(ctx context.Context, payload string) error {
	if c.State() != Connected {
		return &WriteError{Address: c.config.Address, Err: ErrNotConnected}
	}

	if reason := frameProblem(payload); reason != "" {
		protocolError := &ProtocolError{Reason: reason, Digest: Message{Payload: payload}.Digest()}
		c.reportProtocolError(protocolError)
		return protocolError
	}

	if c.peerClosed() {
		c.abandon(io.EOF)
		return &WriteError{Address: c.config.Address, Err: ErrPeerClosed}
	}

	if err := c.write(ctx, payload); err != nil {
		c.abandon(err)
		if ctx.Err() != nil {
			return &InterruptError{Op: "send", Err: ctx.Err()}
		}
		return &WriteError{Address: c.config.Address, Err: err}
	}
	return nil
}

// peerClosed reports whether the response reader has seen the peer end
// the connection. Anything written after that point is lost.
func (c *Connection) peerClosed() bool {
	select {
	case <-c.readerDone:
		return true
	default:
		return false
	}
}

// frameProblem returns why payload cannot be sent as one line, or "".
func frameProblem(payload string) string {
	if strings.ContainsAny(payload, "\r\n") {
		return "payload contains a line terminator"
	}
	if len(payload)+len(Delimiter) > MaxFrameSize {
		return fmt.Sprintf("frame of %d bytes exceeds the %d-byte limit", len(payload)+len(Delimiter), MaxFrameSize)
	}
	return ""
}

// write sends one line. Cancelling ctx expires the write deadline so
// a blocked write returns promptly.
func (c *Connection) write(ctx context.Context, line string) error {
	if c.config.WriteTimeout > 0 {
		c.connection.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)) //nolint:realclock kernel socket deadline
	} else {
		c.connection.SetWriteDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		c.connection.SetWriteDeadline(time.Unix(1, 0))
	})
	defer stop()

	if _, err := c.writer.WriteString(line); err != nil {
		return err
	}
	if _, err := c.writer.WriteString(Delimiter); err != nil {
		return err
	}
	return c.writer.Flush()
}

// abandon releases a connection after a failed write or a peer
// hang-up. The state goes back to Disconnected; nothing reconnects on
// its own.
func (c *Connection) abandon(cause error) {
	c.connection.Close()
	<-c.readerDone
	c.connection = nil
	c.writer = nil
	c.setState(Disconnected)
	c.logger.Warn("connection abandoned",
		"session", c.session,
		"timeout", netutil.IsTimeout(cause),
		"error", cause,
	)
}

// Close ends the connection. With sendTerminalNotice it first writes
// the sentinel line and waits up to CloseLinger for the peer to hang
// up; if the peer has already hung up, nothing is written and a
// WriteError is returned. It then closes the socket, joins the response reader, and moves
// to Closed. Closing a connection that never connected just marks it
// Closed. Further calls are no-ops.
func (c *Connection) Close(sendTerminalNotice bool) error {
	switch c.State() {
	case Closed:
		return nil
	case Disconnected, Connecting:
		c.setState(Closed)
		return nil
	}

	c.setState(Closing)
	logger := c.logger.With("session", c.session)

	var noticeError error
	if sendTerminalNotice {
		if c.peerClosed() {
			noticeError = &WriteError{Address: c.config.Address, Err: fmt.Errorf("sending sentinel: %w", ErrPeerClosed)}
		} else if err := c.write(context.Background(), Sentinel); err != nil {
			noticeError = &WriteError{Address: c.config.Address, Err: fmt.Errorf("sending sentinel: %w", err)}
		} else {
			select {
			case <-c.readerDone:
				logger.Debug("peer closed after sentinel")
			case <-c.clock.After(c.config.CloseLinger):
				logger.Debug("peer did not close within linger, closing locally", "linger", c.config.CloseLinger)
			}
		}
	}

	closeError := c.connection.Close()
	<-c.readerDone
	c.connection = nil
	c.writer = nil
	c.setState(Closed)
	logger.Info("connection closed", "terminal_notice", sendTerminalNotice && noticeError == nil)

	if noticeError != nil {
		return noticeError
	}
	if closeError != nil && !netutil.IsExpectedCloseError(closeError) {
		return fmt.Errorf("bridge: closing connection to %s: %w", c.config.Address, closeError)
	}
	return nil
}

// readResponses consumes the peer's reply lines until the connection
// ends. Error replies are reported as protocol errors; everything else
// is logged at Debug.
func (c *Connection) readResponses(connection net.Conn, done chan struct{}, logger *slog.Logger) {
	defer close(done)

	scanner := bufio.NewScanner(connection)
	scanner.Buffer(make([]byte, 0, 512), MaxFrameSize)
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if reason, isError := strings.CutPrefix(line, "-ERR"); isError {
			c.reportProtocolError(&ProtocolError{
				Reason:   strings.TrimSpace(reason),
				Response: line,
			})
			continue
		}
		logger.Debug("peer response", "line", line)
	}
	err := scanner.Err()
	if errors.Is(err, bufio.ErrTooLong) {
		// Keep the receive buffer draining so the peer never blocks
		// on us; replies are no longer interpreted.
		logger.Warn("peer reply exceeds frame limit, discarding further replies")
		io.Copy(io.Discard, connection)
		return
	}
	if err != nil && !netutil.IsExpectedCloseError(err) {
		logger.Debug("response reader stopped", "error", err)
	}
}

func (c *Connection) reportProtocolError(protocolError *ProtocolError) {
	c.logger.Warn("payload rejected",
		"reason", protocolError.Reason,
		"response", protocolError.Response,
		"digest", protocolError.Digest,
	)
	if c.config.OnProtocolError != nil {
		c.config.OnProtocolError(protocolError)
	}
}
