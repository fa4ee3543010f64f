// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so tests that wait on goroutines fail with a message
// instead of hanging. They are the only helpers that use real
// wall-clock timeouts; everything time-dependent in production code is
// driven through lib/clock.
//
// [UniqueID] produces distinguishable payloads for tests that push
// many messages through the bridge.
//
// [LinePeer] is a loopback TCP listener that records every line it
// receives, answering like the reference peer, for tests that need a
// real remote end without importing the peer package.
//
// All helpers call t.Fatalf on failure.
package testutil
