// Package types implements the type lattice consulted by the verifier.
//
// This package contains:
//   - sentinel types (none, generic reference, Object, primitives, machine words)
//   - class, interface and array types with assignability queries
//   - Hierarchy, the registry a loader fills before verification
//   - resolved Method, Field and Literal references
package types
