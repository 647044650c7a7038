// Ledgerwatch - Activity Audit and Compliance Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/ledgerwatch

// Package main is the Ledgerwatch server.
//
// Ledgerwatch records user activity as an audit trail, evaluates alert
// rules against every new entry, and fans alerts out to administrators,
// live websocket subscribers and external sinks.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging
//  3. Collection store (file or badger backend)
//  4. Recorder, dispatcher and rule evaluator; default rules and the user
//     directory are seeded
//  5. Authentication, authorization and the HTTP router
//  6. Supervisor tree: retention sweep, websocket hub, sink worker, HTTP
//
// SIGINT and SIGTERM cancel the tree; the HTTP server drains for
// server.shutdown_timeout and queued sink deliveries get a short grace
// period.
//
// Examples:
//
//	export JWT_SECRET=$(openssl rand -base64 48)
//	export LEDGERWATCH_DATA_DIR=/var/lib/ledgerwatch
//	ledgerwatch serve
//
//	ledgerwatch token --user u-admin
//
//	AUTH_MODE=none ledgerwatch serve   # development only
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
