// Package journey defines the node execution protocol shared by every authentication-tree
// node: the two-scope state container, the callback exchange, the action/outcome model, and
// the node contract itself.
//
// # Round model
//
// One HTTP round runs exactly one node step. A node never keeps Go state between rounds:
// its position inside a multi-round procedure is re-derived from [State] plus the presence
// or absence of answered callbacks in [Exchange].
//
// # What this package must NOT do
//
//   - Perform I/O. Everything here is pure data plus small helpers.
//   - Import any node implementation or the engine (no import cycles).
package journey
