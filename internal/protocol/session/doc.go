// Package session owns worker bootstrap primitives shared by both sides.
//
// Ownership boundary:
// - worker lifecycle states and validated transitions
// - transport address resolution (flag, then environment)
// - dial timing, retry and backoff
// - pending-until-ready outbox used by the host
package session
