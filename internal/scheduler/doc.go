// Package scheduler drives queued downloads through the external tool with
// bounded concurrency.
//
// A single claim loop goroutine performs every Waiting to Downloading
// transition, so two scheduling passes can never start the same item. Each
// claimed item gets one worker goroutine that owns the item's mutable state
// for the duration of the run; all writes flow through the queue store's
// serialized methods. Pause, resume, retry, and removal are commands applied
// by the scheduler, which then wakes the claim loop.
package scheduler
