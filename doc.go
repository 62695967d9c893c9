// Package goAuthTree runs multi-round authentication journeys assembled from decision
// nodes.
//
// A journey is a walk through a tree of nodes. Each HTTP round runs node steps until one
// of them needs input from the client, suspends for an out-of-band trigger, or reaches a
// terminal. Between rounds the journey's two-scope state is persisted server side; the
// client only ever sees the prompts, a round nonce and the shared scope.
//
// # Architecture boundaries
//
// goAuthTree is the public surface. It exposes [Engine], [Builder], [Config], and the
// metric and audit value types. Tree assembly and the round loop live in the tree package;
// the node implementations live under nodes/; the node protocol types live in journey.
//
// # What this package must NOT do
//
//   - Expose Redis clients or stored journey records in its public API.
//   - Return transient state to callers.
//   - Perform I/O before [Builder.Build] (construction is allocation-only).
//
// Engine methods are safe to call from multiple goroutines after Build.
package goAuthTree
