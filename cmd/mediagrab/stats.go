package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mediagrab/internal/stats"
)

var (
	statsRecent int
	statsJSON   bool
)

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show download statistics",
		Long: `Show totals from the statistics ledger: number of downloads, total size,
first and last download, and breakdowns by category and media type, followed
by the most recent downloads.`,
		Example: `  mediagrab stats
  mediagrab stats --recent 20
  mediagrab stats --json`,
		Args: cobra.NoArgs,
		RunE: statsRun,
	}

	cmd.Flags().IntVar(&statsRecent, "recent", 5, "number of recent downloads to list")
	cmd.Flags().BoolVar(&statsJSON, "json", false, "print the raw ledger as JSON")

	return cmd
}

func statsRun(cmd *cobra.Command, args []string) error {
	if globalRecorder == nil {
		return fmt.Errorf("stats recorder not initialized")
	}

	ledger := globalRecorder.Current(cmd.Context())
	w := cmd.OutOrStdout()

	if statsJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(ledger); err != nil {
			return fmt.Errorf("failed to encode stats: %w", err)
		}
		return nil
	}

	printStats(w, ledger, statsRecent, time.Now())
	return nil
}

func printStats(w io.Writer, l *stats.Ledger, recent int, now time.Time) {
	fmt.Fprintln(w, "Download Statistics")
	fmt.Fprintln(w, "===================")
	fmt.Fprintln(w, "")

	if l.TotalDownloads == 0 {
		fmt.Fprintln(w, "No downloads recorded yet.")
		return
	}

	fmt.Fprintf(w, "%-16s %d\n", "Total downloads:", l.TotalDownloads)
	fmt.Fprintf(w, "%-16s %s\n", "Total size:", stats.FormatBytes(l.TotalSize))
	if l.FirstDownload != nil {
		fmt.Fprintf(w, "%-16s %s (%s)\n", "First download:", l.FirstDownload.Local().Format("2006-01-02 15:04"), stats.RelativeTime(*l.FirstDownload, now))
	}
	if l.LastDownload != nil {
		fmt.Fprintf(w, "%-16s %s (%s)\n", "Last download:", l.LastDownload.Local().Format("2006-01-02 15:04"), stats.RelativeTime(*l.LastDownload, now))
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%-20s %8s\n", "Category", "Count")
	fmt.Fprintln(w, strings.Repeat("-", 29))
	for _, c := range stats.SortedCounts(l.CategoryStats) {
		fmt.Fprintf(w, "%-20s %8d\n", c.Key, c.Count)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%-20s %8s\n", "Type", "Count")
	fmt.Fprintln(w, strings.Repeat("-", 29))
	fmt.Fprintf(w, "%-20s %8d\n", stats.TypeImage, l.TypeStats[stats.TypeImage])
	fmt.Fprintf(w, "%-20s %8d\n", stats.TypeVideo, l.TypeStats[stats.TypeVideo])

	if recent <= 0 {
		return
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Recent downloads:")
	for _, r := range l.Recent(recent) {
		fmt.Fprintf(w, "  %-14s %-12s %-6s %10s  %s\n",
			stats.RelativeTime(r.Timestamp, now), r.Category, r.Type, stats.FormatBytes(r.Size), r.FilePath)
	}
}
