// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package source adapts upstream message systems to the bridge.
//
// A [Source] pulls or receives messages and hands each decoded payload
// to a [Sink], normally a *bridge.Bridge. Three sources exist: [Kafka]
// (consumer-group reader on one topic), [NATS] (subject subscription,
// optionally in a queue group), and [Lines] (newline-delimited text
// from stdin or a file).
//
// Every source decodes through a [Decoder]. With [EncodingRaw] the
// message body is the payload. [EncodingJSON] expects a JSON string
// literal and unwraps it; [EncodingCBOR] expects a CBOR text string.
// Bodies that do not decode are logged and dropped, never delivered.
package source
