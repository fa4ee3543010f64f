// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tcpbridge/lib/clock"
	"github.com/bureau-foundation/tcpbridge/lib/netutil"
)

// Config configures a Bridge.
type Config struct {
	// Address is the peer's host:port. Required.
	Address string

	// Dial holds the connect timeout, socket options, and optional TLS.
	Dial netutil.DialOptions

	// WriteTimeout bounds each write to the peer. Zero disables the
	// deadline.
	WriteTimeout time.Duration

	// CloseLinger is how long to wait for the peer to hang up after
	// the termination notice.
	CloseLinger time.Duration

	// PollInterval is the idle re-check period. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// ConnectPolicy selects lazy (default) or eager connect.
	ConnectPolicy ConnectPolicy

	// Clock drives the poll timer and close linger. Nil means
	// clock.Real().
	Clock clock.Clock

	// Logger receives bridge events. Nil means slog.Default().
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of bridge counters.
type Stats struct {
	// Enqueued counts OnMessage calls, sentinel included.
	Enqueued uint64

	// Forwarded counts payloads written to the peer.
	Forwarded uint64

	// Rejected counts payloads refused locally or answered with an
	// error line by the peer.
	Rejected uint64

	// Pending is the queue depth at the time of the snapshot.
	Pending int
}

// Bridge wires a Queue, a Connection, and a Loop together. Message
// sources deliver payloads through OnMessage from any goroutine; Run
// drives the forwarding loop on the caller's goroutine.
type Bridge struct {
	queue      *Queue
	connection *Connection
	loop       *Loop
	logger     *slog.Logger

	enqueued atomic.Uint64
	rejected atomic.Uint64
}

// New validates config and returns a bridge that has not yet dialed.
func New(config Config) (*Bridge, error) {
	if config.Address == "" {
		return nil, errors.New("bridge: Address is required")
	}
	if config.PollInterval < 0 {
		return nil, errors.New("bridge: PollInterval must not be negative")
	}
	if config.WriteTimeout < 0 || config.CloseLinger < 0 {
		return nil, errors.New("bridge: timeouts must not be negative")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	bridge := &Bridge{
		queue:  NewQueue(),
		logger: config.Logger,
	}
	bridge.connection = NewConnection(ConnectionConfig{
		Address:      config.Address,
		Dial:         config.Dial,
		WriteTimeout: config.WriteTimeout,
		CloseLinger:  config.CloseLinger,
		OnProtocolError: func(*ProtocolError) {
			bridge.rejected.Add(1)
		},
		Clock:  config.Clock,
		Logger: config.Logger,
	})
	bridge.loop = NewLoop(bridge.queue, bridge.connection, LoopConfig{
		PollInterval:  config.PollInterval,
		ConnectPolicy: config.ConnectPolicy,
		Clock:         config.Clock,
		Logger:        config.Logger,
	})
	return bridge, nil
}

// OnMessage enqueues payload for forwarding. It is safe for concurrent
// use, never blocks, and may be called before or after Run starts.
func (b *Bridge) OnMessage(payload string) {
	b.queue.Enqueue(payload)
	b.enqueued.Add(1)
}

// Run forwards queued payloads until the sentinel, a fatal error, or
// cancellation of ctx. See Loop.Run for the return values. A Bridge
// runs once.
func (b *Bridge) Run(ctx context.Context) error {
	err := b.loop.Run(ctx)
	stats := b.Stats()
	b.logger.Info("bridge stopped",
		"forwarded", stats.Forwarded,
		"rejected", stats.Rejected,
		"abandoned", stats.Pending,
		"error", err,
	)
	return err
}

// Stats returns the current counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Enqueued:  b.enqueued.Load(),
		Forwarded: b.loop.Forwarded(),
		Rejected:  b.rejected.Load(),
		Pending:   b.queue.Len(),
	}
}

// State returns the connection's lifecycle state.
func (b *Bridge) State() ConnectionState {
	return b.connection.State()
}
