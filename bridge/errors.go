// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
)

// ConnectionError reports a failed connect: refused, timed out, or
// unreachable. Callers can extract it with errors.As:
//
//	var connectionErr *bridge.ConnectionError
//	if errors.As(err, &connectionErr) { ... }
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bridge: connecting to %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// WriteError reports a send that failed on a connection believed to be
// live. The connection is released when this is returned.
type WriteError struct {
	Address string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("bridge: writing to %s: %v", e.Address, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ProtocolError reports a payload the peer rejected or could not
// accept. It never affects the connection or the loop.
type ProtocolError struct {
	// Reason describes the rejection.
	Reason string

	// Response is the peer's reply line, empty when the payload was
	// refused locally before being written.
	Response string

	// Digest fingerprints the offending payload when it is known.
	Digest string
}

func (e *ProtocolError) Error() string {
	if e.Response != "" {
		return fmt.Sprintf("bridge: peer rejected payload: %s", e.Reason)
	}
	return fmt.Sprintf("bridge: payload not sendable: %s", e.Reason)
}

// InterruptError reports that cancellation cut short a connect, send,
// or idle wait. Err is the context's error.
type InterruptError struct {
	Op  string
	Err error
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("bridge: %s interrupted: %v", e.Op, e.Err)
}

func (e *InterruptError) Unwrap() error { return e.Err }

// ErrNotConnected is wrapped in the WriteError returned by Send when
// no connection is open.
var ErrNotConnected = errors.New("not connected")

// ErrPeerClosed is wrapped in the WriteError returned when the peer has
// already hung up on the connection a write would use.
var ErrPeerClosed = errors.New("peer closed the connection")

// ErrClosed is wrapped in the ConnectionError returned by
// EnsureConnected after Close.
var ErrClosed = errors.New("connection closed")

// IsFatal reports whether err ends a forwarding run. Protocol errors
// are not fatal; connect, write, and interrupt errors are, as is any
// error the bridge does not recognise.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var protocolError *ProtocolError
	return !errors.As(err, &protocolError)
}

// IsInterrupt reports whether err is an InterruptError.
func IsInterrupt(err error) bool {
	var interruptError *InterruptError
	return errors.As(err, &interruptError)
}
