// Package timeouts defines shared timeout constants used across the bridge.
package timeouts

import "time"

// Confirmation caps how long a transfer waits for its receipt before the
// outcome is reported as ambiguous.
const Confirmation = 60 * time.Second

// ConfirmationPoll is the interval between receipt lookups.
const ConfirmationPoll = 2 * time.Second

// RPCRequest caps a single JSON-RPC round trip to the ledger node.
const RPCRequest = 15 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
