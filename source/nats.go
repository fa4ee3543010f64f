// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures a NATS source.
type NATSConfig struct {
	URL     string
	Subject string

	// QueueGroup, when set, load-balances the subject across every
	// bridge subscribed with the same group.
	QueueGroup string

	// Name identifies the client connection to the server.
	Name string

	// NoReconnect closes the source for good when the server
	// connection is lost instead of reconnecting in the background.
	NoReconnect bool

	// DrainTimeout bounds delivery of already-received messages on
	// shutdown. Zero means the client default.
	DrainTimeout time.Duration
}

// NATS delivers messages published on one subject. Message callbacks
// run on the client's delivery goroutine.
type NATS struct {
	config  NATSConfig
	decoder *Decoder
	logger  *slog.Logger

	connection *nats.Conn
	closed     chan struct{}
	ready      chan struct{}
}

// NewNATS connects to the server. The subscription is made by Run.
func NewNATS(config NATSConfig, decoder *Decoder, logger *slog.Logger) (*NATS, error) {
	if config.URL == "" {
		return nil, errors.New("nats source: url is required")
	}
	if config.Subject == "" {
		return nil, errors.New("nats source: subject is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("subject", config.Subject)

	source := &NATS{
		config:  config,
		decoder: decoder,
		logger:  logger,
		closed:  make(chan struct{}),
		ready:   make(chan struct{}),
	}

	options := []nats.Option{
		nats.Name(config.Name),
		nats.ClosedHandler(func(*nats.Conn) { close(source.closed) }),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(connection *nats.Conn) {
			logger.Info("nats reconnected", "url", connection.ConnectedUrl())
		}),
	}
	if config.NoReconnect {
		options = append(options, nats.NoReconnect())
	}
	if config.DrainTimeout > 0 {
		options = append(options, nats.DrainTimeout(config.DrainTimeout))
	}

	connection, err := nats.Connect(config.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("nats source: connecting to %s: %w", config.URL, err)
	}
	source.connection = connection
	return source, nil
}

// Run subscribes and delivers until ctx is cancelled or the connection
// is closed. On cancellation the connection is drained so messages the
// client has already received still reach the sink.
func (n *NATS) Run(ctx context.Context, sink Sink) error {
	handler := func(message *nats.Msg) {
		n.decoder.Deliver(sink, message.Data, "reply", message.Reply)
	}

	var err error
	if n.config.QueueGroup != "" {
		_, err = n.connection.QueueSubscribe(n.config.Subject, n.config.QueueGroup, handler)
	} else {
		_, err = n.connection.Subscribe(n.config.Subject, handler)
	}
	if err != nil {
		return fmt.Errorf("nats source: subscribing to %s: %w", n.config.Subject, err)
	}
	// Make sure the server has registered the interest before
	// reporting the source as started.
	if err := n.connection.Flush(); err != nil {
		return fmt.Errorf("nats source: flushing subscription: %w", err)
	}
	close(n.ready)
	n.logger.Info("nats source started", "queue_group", n.config.QueueGroup)

	select {
	case <-ctx.Done():
		if err := n.connection.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			return fmt.Errorf("nats source: draining: %w", err)
		}
		<-n.closed
		return nil
	case <-n.closed:
		if lastError := n.connection.LastError(); lastError != nil {
			return fmt.Errorf("nats source: connection closed: %w", lastError)
		}
		return nil
	}
}

// Ready is closed once the server has confirmed the subscription.
// Messages published after that point reach the sink.
func (n *NATS) Ready() <-chan struct{} {
	return n.ready
}

// Close closes the connection without draining.
func (n *NATS) Close() error {
	n.connection.Close()
	return nil
}
