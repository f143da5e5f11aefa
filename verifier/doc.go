// Package verifier proves, before a method runs, that its instructions use
// the operand stack and slots according to the type discipline.
//
// This package contains:
//   - Value, the tagged descriptor of a stack entry or slot, and Merge
//   - Ledger, the set of addresses control flow must land on exactly
//   - Frame, the abstract machine a driver steps through a method
//   - Error, the fatal failure taxonomy
//   - Snapshot, a canonical export of the per-address saved state
//
// The package performs no I/O and keeps no global mutable state.
package verifier
