// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package peer implements a reference receiver for the bridge's line
// protocol. It is used for local development, demos, and end-to-end
// tests; production peers only need to speak the same protocol.
//
// Each accepted connection is greeted with "+HELLO <host> <time>".
// Every CRLF- or LF-terminated line is then answered:
//
//	(empty line)        -ERR empty message
//	bye (any case)      +BYE, then the server hangs up
//	fails validation    -ERR <reason>
//	anything else       +OK
//
// A line longer than the 8192-byte frame limit is answered with
// "-ERR frame too long" and the connection is closed.
//
// Lines are handled by a [Pipeline] of three plain functions: decode,
// validate, respond. [NewPipeline] builds the standard one; callers
// swap individual stages to change the behaviour.
package peer
