// Package rate throttles journey traffic with Redis-backed fixed-window counters.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys:
//   - <prefix>:rs:<ip>       : journey starts per client address
//   - <prefix>:rc:<journeyID>: answered rounds per journey
//
// Retry budgets inside a tree belong to the retryLimit node, not to this package.
package rate
