// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the tcpbridge
// binaries: reporting an error from run() to stderr before the
// structured logger exists (or after it is gone) and choosing the exit
// code.
package process
