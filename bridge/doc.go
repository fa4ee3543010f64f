// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge forwards payloads from an asynchronous message source
// to a remote peer over one persistent TCP connection.
//
// Producers (broker callbacks, possibly many at once) hand payloads to
// [Bridge.OnMessage], which appends them to an unbounded FIFO [Queue]
// and never blocks. A single [Loop] goroutine drains the queue: it
// connects on the first message (or at startup with [ConnectEager]),
// writes each payload as one CRLF-terminated line, and ends the run
// when it dequeues the sentinel payload "bye". On the sentinel it sends
// the sentinel line to the peer as a termination notice, waits briefly
// for the peer to hang up, and closes; anything enqueued after the
// sentinel is not forwarded.
//
// [Connection] owns the socket. It never retries: a failed connect is
// a [ConnectionError] and a failed write is a [WriteError], and the
// loop returns either one as fatal so that whatever supervises the
// process decides whether to start a new run. Payloads the peer cannot
// accept ([ProtocolError]) are reported and skipped without touching
// the connection. Cancelling the run context produces an
// [InterruptError]; every exit path closes the socket.
//
// The queue lives in memory only. Payloads still queued when the run
// ends or the process exits are lost.
package bridge
