package config

const (
	defaultDownloadDir        = "~/Downloads/fetchd"
	defaultLogDir             = "~/.local/share/fetchd/logs"
	defaultHistoryDB          = "~/.local/share/fetchd/history.db"
	defaultDownloaderBinary   = "yt-dlp"
	defaultMaxConcurrency     = 2
	defaultNamingTemplate     = "%(title)s.%(ext)s"
	defaultDownloadTimeout    = 7200
	defaultFormatFetchTimeout = 120
	defaultStopGraceSeconds   = 3
	defaultAudioFormat        = "mp3"
	defaultFFmpegBinary       = "ffmpeg"
	defaultPostProcessTimeout = 1800
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
			HistoryDB:   defaultHistoryDB,
		},
		Downloader: Downloader{
			Binary:             defaultDownloaderBinary,
			MaxConcurrency:     defaultMaxConcurrency,
			NamingTemplate:     defaultNamingTemplate,
			DownloadTimeout:    defaultDownloadTimeout,
			FormatFetchTimeout: defaultFormatFetchTimeout,
			StopGraceSeconds:   defaultStopGraceSeconds,
		},
		Fallback: Fallback{
			Auto: true,
		},
		PostProcess: PostProcess{
			AudioFormat:  defaultAudioFormat,
			FFmpegBinary: defaultFFmpegBinary,
			Timeout:      defaultPostProcessTimeout,
		},
		History: History{
			Enabled: true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
