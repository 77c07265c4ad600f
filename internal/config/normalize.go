package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.HistoryDB, err = expandPath(c.Paths.HistoryDB); err != nil {
		return err
	}

	c.Downloader.Binary = strings.TrimSpace(c.Downloader.Binary)
	c.Downloader.NamingTemplate = strings.TrimSpace(c.Downloader.NamingTemplate)
	c.Downloader.CookieSource = strings.TrimSpace(c.Downloader.CookieSource)
	c.PostProcess.TargetContainer = strings.ToLower(strings.TrimSpace(c.PostProcess.TargetContainer))
	c.PostProcess.AudioFormat = strings.ToLower(strings.TrimSpace(c.PostProcess.AudioFormat))
	c.PostProcess.FFmpegBinary = strings.TrimSpace(c.PostProcess.FFmpegBinary)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}
