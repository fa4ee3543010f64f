// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"syscall"
	"time"
)

// DialOptions controls how an outbound TCP connection is opened.
type DialOptions struct {
	// Timeout bounds the connect (and TLS handshake). Zero means only
	// the context deadline applies.
	Timeout time.Duration

	// KeepAlive is the TCP keep-alive period. Zero uses the Go
	// default; negative disables keep-alives.
	KeepAlive time.Duration

	// UserTimeout sets TCP_USER_TIMEOUT where the platform supports it:
	// the longest time transmitted data may stay unacknowledged before
	// the kernel drops the connection. Zero leaves the system default.
	UserTimeout time.Duration

	// TLS, when non-nil, wraps the connection in a TLS client
	// session and completes the handshake before returning.
	TLS *tls.Config
}

// Dial opens a TCP connection to address with TCP_NODELAY set and the
// socket options in options applied.
func Dial(ctx context.Context, address string, options DialOptions) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   options.Timeout,
		KeepAlive: options.KeepAlive,
		Control: func(network, _ string, raw syscall.RawConn) error {
			if options.UserTimeout <= 0 {
				return nil
			}
			var controlError error
			if err := raw.Control(func(descriptor uintptr) {
				controlError = setUserTimeout(descriptor, options.UserTimeout)
			}); err != nil {
				return err
			}
			if controlError != nil {
				return fmt.Errorf("setting TCP_USER_TIMEOUT on %s socket: %w", network, controlError)
			}
			return nil
		},
	}

	connection, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if tcpConnection, ok := connection.(*net.TCPConn); ok {
		tcpConnection.SetNoDelay(true)
	}

	if options.TLS == nil {
		return connection, nil
	}

	config := options.TLS.Clone()
	if config.ServerName == "" {
		host, _, splitError := net.SplitHostPort(address)
		if splitError == nil {
			config.ServerName = host
		}
	}
	tlsConnection := tls.Client(connection, config)
	handshakeContext := ctx
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		handshakeContext, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}
	if err := tlsConnection.HandshakeContext(handshakeContext); err != nil {
		connection.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", address, err)
	}
	return tlsConnection, nil
}
