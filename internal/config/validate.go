package config

import (
	"errors"
	"fmt"
)

var knownContainers = map[string]struct{}{
	"mp4": {}, "mkv": {}, "mov": {}, "webm": {}, "avi": {},
}

var knownAudioFormats = map[string]struct{}{
	"mp3": {}, "m4a": {}, "opus": {}, "flac": {}, "wav": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDownloader(); err != nil {
		return err
	}
	if err := c.validateFallback(); err != nil {
		return err
	}
	if err := c.validatePostProcess(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.DownloadDir == "" {
		return errors.New("paths.download_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.History.Enabled && c.Paths.HistoryDB == "" {
		return errors.New("paths.history_db must be set when history.enabled is true")
	}
	return nil
}

func (c *Config) validateDownloader() error {
	if c.Downloader.Binary == "" {
		return errors.New("downloader.binary must be set")
	}
	if c.Downloader.MaxConcurrency < 1 {
		return fmt.Errorf("downloader.max_concurrency must be at least 1, got %d", c.Downloader.MaxConcurrency)
	}
	if c.Downloader.DownloadTimeout < 0 {
		return errors.New("downloader.download_timeout must not be negative")
	}
	if c.Downloader.FormatFetchTimeout < 1 {
		return errors.New("downloader.format_fetch_timeout must be at least 1 second")
	}
	if c.Downloader.StopGraceSeconds < 1 {
		return errors.New("downloader.stop_grace_seconds must be at least 1 second")
	}
	return nil
}

func (c *Config) validateFallback() error {
	if c.Fallback.MaxHeight < 0 {
		return errors.New("fallback.max_height must not be negative")
	}
	return nil
}

func (c *Config) validatePostProcess() error {
	if !c.PostProcess.Enabled {
		return nil
	}
	if c.PostProcess.FFmpegBinary == "" {
		return errors.New("post_process.ffmpeg_binary must be set when post_process.enabled is true")
	}
	if c.PostProcess.TargetContainer != "" {
		if _, ok := knownContainers[c.PostProcess.TargetContainer]; !ok {
			return fmt.Errorf("post_process.target_container: unsupported container %q", c.PostProcess.TargetContainer)
		}
	}
	if c.PostProcess.ExtractAudio {
		if _, ok := knownAudioFormats[c.PostProcess.AudioFormat]; !ok {
			return fmt.Errorf("post_process.audio_format: unsupported format %q", c.PostProcess.AudioFormat)
		}
	}
	if c.PostProcess.Timeout < 1 {
		return errors.New("post_process.timeout must be at least 1 second")
	}
	return nil
}
