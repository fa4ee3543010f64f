// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by producers and
// the bridge.
//
// Some upstream producers publish each message as a CBOR data item
// (usually a single text string) rather than raw text. The source
// package decodes those with Unmarshal before handing the text to the
// bridge; tests and tooling encode with Marshal. Encoding uses Core
// Deterministic Encoding (RFC 8949 §4.2) so the same value always
// yields the same bytes.
//
//	data, err := codec.Marshal("order-1")
//	var payload string
//	err = codec.Unmarshal(data, &payload)
package codec
