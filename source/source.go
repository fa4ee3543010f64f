// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/tcpbridge/lib/codec"
)

// Sink receives decoded payloads. Implementations must be safe for
// concurrent use and must not block.
type Sink interface {
	OnMessage(payload string)
}

// Source delivers upstream messages to a Sink until its context is
// cancelled, the upstream ends, or a fatal upstream error occurs.
type Source interface {
	// Run delivers messages to sink. It returns nil when ctx is
	// cancelled or the upstream is exhausted.
	Run(ctx context.Context, sink Sink) error

	// Close releases the upstream client. It is safe to call after
	// Run has returned.
	Close() error
}

// Encoding names how a message body carries its payload.
type Encoding string

const (
	EncodingRaw  Encoding = "raw"
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// ParseEncoding validates name. The empty string means EncodingRaw.
func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(name) {
	case "", EncodingRaw:
		return EncodingRaw, nil
	case EncodingJSON, EncodingCBOR:
		return Encoding(name), nil
	default:
		return "", fmt.Errorf("unknown payload encoding %q", name)
	}
}

// Decoder turns message bodies into payloads and counts the ones it
// had to drop.
type Decoder struct {
	encoding Encoding
	logger   *slog.Logger
	dropped  atomic.Uint64
}

// NewDecoder returns a decoder for encoding. A nil logger means
// slog.Default().
func NewDecoder(encoding Encoding, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{encoding: encoding, logger: logger}
}

// Decode extracts the payload from body.
func (d *Decoder) Decode(body []byte) (string, error) {
	switch d.encoding {
	case EncodingJSON:
		var payload string
		if err := json.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("decoding JSON string payload: %w", err)
		}
		return payload, nil
	case EncodingCBOR:
		var payload string
		if err := codec.Unmarshal(body, &payload); err != nil {
			return "", fmt.Errorf("decoding CBOR text payload: %w", err)
		}
		return payload, nil
	default:
		return string(body), nil
	}
}

// Deliver decodes body and passes the payload to sink. Bodies that
// fail to decode are logged with attrs and dropped.
func (d *Decoder) Deliver(sink Sink, body []byte, attrs ...any) {
	payload, err := d.Decode(body)
	if err != nil {
		d.dropped.Add(1)
		d.logger.Warn("dropping undecodable message",
			append([]any{"encoding", d.encoding, "bytes", len(body), "error", err}, attrs...)...)
		return
	}
	sink.OnMessage(payload)
}

// Dropped returns how many bodies failed to decode.
func (d *Decoder) Dropped() uint64 {
	return d.dropped.Load()
}
