// Package domain models the resource economy that the bridge moves onto the
// ledger: the fixed set of resource kinds, the configured accounts, and the
// transfer requests and results exchanged between the game and the ledger.
//
// Nothing here talks to the ledger. Values are validated at construction or
// through Validate so that every request reaching the orchestrator is already
// well formed.
package domain
