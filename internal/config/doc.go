// Package config loads and validates the fetchd TOML configuration.
//
// Configuration sections by subsystem:
//   - Paths: download, log, and history database locations
//   - Downloader: external downloader binary and queue behavior
//   - Fallback: automatic format substitution policy
//   - PostProcess: optional ffmpeg remux/transcode step
//   - History: completed download records
//   - Logging: log format and level
//
// Values resolve in order: defaults, then the config file. Path fields are
// tilde-expanded and normalized to absolute paths during load.
package config
