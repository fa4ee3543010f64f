// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tcpbridge/lib/clock"
)

// Link is the connection the loop drives. *Connection implements it;
// tests substitute fakes.
type Link interface {
	EnsureConnected(ctx context.Context) error
	Send(ctx context.Context, payload string) error
	Close(sendTerminalNotice bool) error
}

// ConnectPolicy decides when the loop first connects.
type ConnectPolicy int

const (
	// ConnectLazy connects when the first non-sentinel message is
	// dequeued. An idle bridge never dials.
	ConnectLazy ConnectPolicy = iota

	// ConnectEager connects before the first dequeue. A failure
	// aborts the run before any message is consumed.
	ConnectEager
)

func (p ConnectPolicy) String() string {
	if p == ConnectEager {
		return "eager"
	}
	return "lazy"
}

// ParseConnectPolicy converts "lazy" or "eager".
func ParseConnectPolicy(name string) (ConnectPolicy, error) {
	switch name {
	case "", "lazy":
		return ConnectLazy, nil
	case "eager":
		return ConnectEager, nil
	default:
		return ConnectLazy, fmt.Errorf("unknown connect policy %q", name)
	}
}

// DefaultPollInterval is the idle re-check period when none is set.
const DefaultPollInterval = 5 * time.Second

// LoopConfig configures a Loop.
type LoopConfig struct {
	// PollInterval bounds how long the loop sleeps on an empty queue
	// before checking again. Enqueue also wakes it early. Zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// ConnectPolicy selects lazy (default) or eager connect.
	ConnectPolicy ConnectPolicy

	// Clock drives the idle timer. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives loop events. Nil means slog.Default().
	Logger *slog.Logger
}

// Loop is the single consumer of a Queue. It forwards each message
// through its Link in dequeue order and stops at the sentinel.
type Loop struct {
	queue        *Queue
	link         Link
	pollInterval time.Duration
	policy       ConnectPolicy
	clock        clock.Clock
	logger       *slog.Logger

	started   atomic.Bool
	forwarded atomic.Uint64
}

// NewLoop returns a loop draining queue into link.
func NewLoop(queue *Queue, link Link, config LoopConfig) *Loop {
	loop := &Loop{
		queue:        queue,
		link:         link,
		pollInterval: config.PollInterval,
		policy:       config.ConnectPolicy,
		clock:        config.Clock,
		logger:       config.Logger,
	}
	if loop.pollInterval <= 0 {
		loop.pollInterval = DefaultPollInterval
	}
	if loop.clock == nil {
		loop.clock = clock.Real()
	}
	if loop.logger == nil {
		loop.logger = slog.Default()
	}
	return loop
}

// Forwarded returns the number of payloads written to the peer.
func (l *Loop) Forwarded() uint64 {
	return l.forwarded.Load()
}

// Run drains the queue until the sentinel is dequeued (returns nil),
// a connect or write fails (returns the ConnectionError or
// WriteError), or ctx is cancelled (returns an InterruptError). The
// link is closed on every return path: with the termination notice
// after the sentinel, without it otherwise.
//
// A Loop runs once. A second call returns an error immediately.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("bridge: loop already started")
	}

	closed := false
	defer func() {
		if closed {
			return
		}
		if closeError := l.link.Close(false); closeError != nil {
			l.logger.Warn("closing connection after failed run", "error", closeError)
		}
	}()

	l.logger.Info("forwarding loop started",
		"poll_interval", l.pollInterval,
		"connect_policy", l.policy,
	)

	if l.policy == ConnectEager {
		if err := l.link.EnsureConnected(ctx); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			return &InterruptError{Op: "forward", Err: ctx.Err()}
		}

		message, ok := l.queue.Peek()
		if !ok {
			if err := l.idle(ctx); err != nil {
				return err
			}
			continue
		}

		// Connect while the message is still queued so a failed
		// connect leaves the queue untouched.
		if !message.IsTerminal() {
			if err := l.link.EnsureConnected(ctx); err != nil {
				return err
			}
		}
		l.queue.TryDequeue()

		if message.IsTerminal() {
			closed = true
			l.logger.Info("sentinel dequeued, ending session",
				"forwarded", l.forwarded.Load(),
				"abandoned", l.queue.Len(),
			)
			return l.link.Close(true)
		}

		if err := l.link.Send(ctx, message.Payload); err != nil {
			if !IsFatal(err) {
				l.logger.Debug("skipping unsendable payload", "digest", message.Digest())
				continue
			}
			return err
		}
		l.forwarded.Add(1)
		l.logger.Debug("forwarded", "digest", message.Digest(), "bytes", len(message.Payload))
	}
}

// idle waits for an enqueue signal, the poll interval, or
// cancellation.
func (l *Loop) idle(ctx context.Context) error {
	timer := l.clock.NewTimer(l.pollInterval)
	defer timer.Stop()

	select {
	case <-l.queue.Notify():
	case <-timer.C:
	case <-ctx.Done():
		return &InterruptError{Op: "idle wait", Err: ctx.Err()}
	}
	return nil
}
