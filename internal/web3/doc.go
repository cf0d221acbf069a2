// Package web3 houses chain connectivity for the grinder. The ethereum
// subpackage talks to the intent catalog, pool registry and batch executor
// contracts over JSON-RPC and implements the grind ledger ports.
package web3
