package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fetchd/internal/logging"
	"fetchd/internal/procman"
	"fetchd/internal/queue"
	"fetchd/internal/ytdlp"
)

func newFormatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "formats <url>",
		Short: "List the formats a source offers for a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger := logging.NewNop()
			sup := procman.New(time.Duration(cfg.Downloader.StopGraceSeconds)*time.Second, logger)
			client, err := ytdlp.New(ytdlp.Options{
				Binary:       cfg.Downloader.Binary,
				CookieSource: cfg.Downloader.CookieSource,
				FetchTimeout: time.Duration(cfg.Downloader.FormatFetchTimeout) * time.Second,
			}, sup, logger)
			if err != nil {
				return err
			}

			formats, err := client.FetchFormats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(formats) == 0 {
				fmt.Println("No formats reported.")
				return nil
			}

			fmt.Println(renderFormatsTable(formats))
			return nil
		},
	}
}

func renderFormatsTable(formats []queue.Format) string {
	rows := make([][]string, 0, len(formats))
	for _, f := range formats {
		kind := "video"
		height := ""
		if f.IsAudioOnly() {
			kind = "audio"
		} else if f.Height > 0 {
			height = strconv.Itoa(f.Height) + "p"
		}
		bitrate := ""
		if f.Bitrate > 0 {
			bitrate = fmt.Sprintf("%.0fk", f.Bitrate)
		}
		size := ""
		if f.FileSize > 0 {
			size = humanize.Bytes(uint64(f.FileSize))
		}
		rows = append(rows, []string{f.ID, f.Extension, kind, height, f.VideoCodec, f.AudioCodec, bitrate, size})
	}
	return renderTable([]string{"ID", "Ext", "Kind", "Height", "VCodec", "ACodec", "Bitrate", "Size"}, rows, 4, 7, 8)
}
