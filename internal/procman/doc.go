// Package procman spawns and supervises external tool processes.
//
// The supervisor streams child output line by line while the process runs,
// enforces an optional wall clock budget, and keeps a registry of every live
// child so the whole set can be stopped during shutdown. Termination walks a
// ladder of signals (TERM, INT, KILL) with a grace wait between steps; the
// ladder runs at most once per process no matter how many times a caller
// requests cancellation.
package procman
