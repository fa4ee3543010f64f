// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Sentinel is the payload that ends a forwarding session. Comparison
// is case-insensitive and does not trim whitespace.
const Sentinel = "bye"

// Delimiter terminates every line written to the peer.
const Delimiter = "\r\n"

// MaxFrameSize is the largest line, delimiter included, the peer
// accepts.
const MaxFrameSize = 8192

// Message is one queued payload.
type Message struct {
	Payload string
}

// IsTerminal reports whether the message is the sentinel.
func (m Message) IsTerminal() bool {
	return strings.EqualFold(m.Payload, Sentinel)
}

// Digest returns a short BLAKE3 fingerprint of the payload. Logs carry
// the digest instead of the payload so message contents stay out of
// log storage while individual messages can still be correlated.
func (m Message) Digest() string {
	sum := blake3.Sum256([]byte(m.Payload))
	return hex.EncodeToString(sum[:8])
}
