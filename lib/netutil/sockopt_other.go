// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package netutil

import "time"

// TCP_USER_TIMEOUT is Linux-only; elsewhere the option is ignored.
func setUserTimeout(uintptr, time.Duration) error { return nil }
