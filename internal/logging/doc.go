// Package logging builds the slog loggers used across fetchd.
//
// Console output is a compact single-line format aimed at humans watching a
// download run; JSON output is available for log collection. Attribute
// helpers keep field keys consistent so queue items can be traced through
// scheduler, supervisor, and post-processing logs by item_id.
package logging
