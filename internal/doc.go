// Package internal holds helpers shared by the engine, the tree runner and the nodes:
// random identifiers and the hashing used to bind tokens to client facts.
//
// # Sub-packages
//
//   - audit: async audit event dispatch (Dispatcher + Sink implementations)
//   - logging: zap-backed leveled logger
//   - rate: Redis-backed fixed-window throttles for journey traffic
package internal
