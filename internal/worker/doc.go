// Package worker owns the worker-process side of the bootstrap.
//
// State flow: Spawned -> Connecting -> Initializing -> Ready, any -> Failed.
// The worker dials the UI socket, runs its local init hooks, then sends the
// zero-payload extension_init signal. Failing before that signal is fatal to
// the process.
package worker
