package testsupport

import (
	"path/filepath"
	"testing"

	"fetchd/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.HistoryDB = filepath.Join(base, "history.db")
	cfg.History.Enabled = false
	cfg.Downloader.StopGraceSeconds = 1

	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithMaxConcurrency sets the claim bound on the test config.
func WithMaxConcurrency(n int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Downloader.MaxConcurrency = n
	}
}

// WithDownloaderBinary points the config at a stub downloader executable.
func WithDownloaderBinary(path string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Downloader.Binary = path
	}
}
