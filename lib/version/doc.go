// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the tcpbridge
// binaries. Values are injected at link time:
//
//	go build -ldflags "-X github.com/bureau-foundation/tcpbridge/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
