package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"fetchd/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently completed downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				fmt.Println("History is disabled; enable [history] in the config to record downloads.")
				return nil
			}

			store, err := history.Open(cfg.Paths.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No completed downloads recorded yet.")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				title := rec.Title
				if title == "" {
					title = rec.URL
				}
				size := ""
				if rec.Size > 0 {
					size = humanize.Bytes(uint64(rec.Size))
				}
				duration := ""
				if rec.Duration > 0 {
					duration = (time.Duration(rec.Duration) * time.Second).String()
				}
				rows = append(rows, []string{
					shorten(title, 48),
					size,
					duration,
					humanize.Time(rec.CompletedAt),
				})
			}
			fmt.Println(renderTable([]string{"Title", "Size", "Duration", "Completed"}, rows, 2, 3))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show")
	return cmd
}
