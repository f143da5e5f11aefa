// Package driver verifies method bodies by decoding their instructions and
// stepping a verifier.Frame through them.
//
// A method is verified in passes. Each pass visits the instructions in
// address order; when a backward branch widened the state saved for its
// target, another pass runs from that widened state. The number of passes
// is bounded by Options.MaxPasses.
//
// Units are verified concurrently with one frame per method. Accepted
// methods are remembered by content hash, so verifying identical content
// again is a cache lookup.
package driver
