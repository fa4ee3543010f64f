// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the tcpbridge configuration file.
//
// The file is YAML, located by the --config flag or the
// TCPBRIDGE_CONFIG environment variable. There is no search path:
// a missing location is an error, so the running configuration is
// always the one an operator pointed at.
//
// The file may carry development, staging, and production sections
// whose non-empty values override the base values when the top-level
// environment matches. Host names, broker addresses, and URLs may use
// ${VAR} and ${VAR:-default} expansion so one file serves several
// deployments.
package config
