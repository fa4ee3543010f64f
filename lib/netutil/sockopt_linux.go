// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package netutil

import (
	"time"

	"golang.org/x/sys/unix"
)

func setUserTimeout(descriptor uintptr, timeout time.Duration) error {
	return unix.SetsockoptInt(int(descriptor), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, int(timeout.Milliseconds()))
}
