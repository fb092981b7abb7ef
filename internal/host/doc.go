// Package host is the UI-process side of worker IPC. It listens on a local
// socket, registers each accepted worker, holds outbound messages until the
// worker signals extension_init, and relays worker logs and crash reports.
//
// A worker is addressable by id from the moment it is accepted. Messages
// sent before it is Ready are queued and flushed in order ahead of anything
// sent after. Any application message a worker sends before its init signal
// is a protocol violation and closes the connection.
package host
