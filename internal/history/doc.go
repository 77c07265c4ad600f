// Package history records completed downloads in SQLite.
//
// The scheduler writes records fire-and-forget; nothing in the download
// pipeline depends on history succeeding. The store doubles as the data
// source for the `fetchd history` command.
package history
