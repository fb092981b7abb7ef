// Package protocol groups the UI/worker wire contract.
//
// Ownership boundary:
// - value: dynamic value model and recursive codec
// - frame: message header primitives and stream reassembly
// - endpoint: one framed duplex connection with dispatch
// - session: worker lifecycle states, dial timing and backoff
// - channel: named application channels over KindChannel
package protocol
