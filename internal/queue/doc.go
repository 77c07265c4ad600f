// Package queue owns the download queue items and their state machine.
//
// The Store is the single owner of all item state. Every mutation goes
// through a Store method under one mutex, and accessors hand out copies, so
// no two goroutines ever write the same item concurrently. Claiming the next
// waiting item is a single atomic step, which is what keeps two scheduler
// passes from starting the same download twice.
package queue
