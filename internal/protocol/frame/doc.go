// Package frame owns the message header codec and stream reassembly.
//
// Wire layout, host byte order:
//
//	[kind u8][target u32][length u32][payload: length bytes]
//
// A zero length is a legal pure signal. The payload is a back-to-back
// sequence of value encodings, decoded only when a handler asks for it.
package frame
