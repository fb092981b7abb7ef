// Package value owns the dynamic value model and its binary codec.
//
// Ownership boundary:
// - the closed value sum type (nil, boolean, number, string, table, handle)
// - recursive encode/decode over that type
// - conversion to and from native Go values
//
// Wire encoding, one tag byte per value:
//
//	nil     [0x00]
//	boolean [0x01][0|1]
//	handle  [0x02][8 bytes]
//	number  [0x03][8 bytes float64]
//	string  [0x04][8 byte length][bytes][0x00]
//	table   [0x05]{key value}*[0xFF]
//
// Fixed-width fields use the host byte order. Tables end with the 0xFF
// terminator instead of carrying a pair count, so they can be written
// incrementally.
package value
