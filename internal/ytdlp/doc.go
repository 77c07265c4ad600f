// Package ytdlp wraps the external yt-dlp compatible downloader tool.
//
// Two invocation modes are used: the line-oriented download mode whose
// output feeds the progress parser, and the JSON dump mode (-J) for metadata
// and format discovery. The package also houses the fallback resolver that
// picks a substitute format when the requested one is rejected.
package ytdlp
