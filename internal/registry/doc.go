// Package registry tracks connected workers by id.
//
// Entries are created Connecting on accept, become Ready once on the
// worker's init signal and are removed at teardown. Reads return copies so
// callers never hold the lock while talking to a worker.
package registry
