package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/mediagrab/internal/config"
	"github.com/BadgerOps/mediagrab/internal/download"
	"github.com/BadgerOps/mediagrab/internal/engine"
	"github.com/BadgerOps/mediagrab/internal/source"
	"github.com/BadgerOps/mediagrab/internal/stats"
)

var (
	fetchSource   string
	fetchCategory string
	fetchTags     []string
	fetchType     string
	fetchCount    int
)

func newFetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a batch of posts for a category or tag set",
		Long: `Search the selected source and download --count posts into
<download-dir>/<category>/. Use --category with a name or id from
"mediagrab categories", or --tags for a free-form search recorded as "Custom".

A post already downloaded in the same batch is skipped and the search is
repeated, up to search.max_attempts times per item. Items that fail are
reported and the batch carries on.`,
		Example: `  mediagrab fetch --category anime --count 5
  mediagrab fetch --category 9 --type video --count 2
  mediagrab fetch --tags landscape,sunset --count 3
  mediagrab fetch --source nekobot --tags neko`,
		Args: cobra.NoArgs,
		RunE: fetchRun,
	}

	cmd.Flags().StringVar(&fetchSource, "source", "", "source to search (defaults to sources.default)")
	cmd.Flags().StringVar(&fetchCategory, "category", "", "category name or id")
	cmd.Flags().StringSliceVar(&fetchTags, "tags", nil, "comma-separated free-form tags")
	cmd.Flags().StringVar(&fetchType, "type", "image", "media type (image or video)")
	cmd.Flags().IntVar(&fetchCount, "count", 1, "number of items to download")

	return cmd
}

// scope is what a batch searches for and how it is labelled.
type scope struct {
	Label string
	Tags  []string
}

// resolveScope turns --category/--tags into a label and tag list.
func resolveScope(cfg *config.Config, category string, tags []string) (scope, error) {
	var cleaned []string
	for _, t := range tags {
		cleaned = append(cleaned, strings.Fields(t)...)
	}

	switch {
	case category != "" && len(cleaned) > 0:
		return scope{}, errors.New("use either --category or --tags, not both")
	case len(cleaned) > 0:
		return scope{Label: config.CustomCategory, Tags: cleaned}, nil
	case category != "":
		cat, ok := cfg.FindCategory(category)
		if !ok {
			return scope{}, fmt.Errorf("unknown category %q (see \"mediagrab categories\")", category)
		}
		if len(cat.Tags) == 0 {
			return scope{}, fmt.Errorf("category %q has no tags", cat.Name)
		}
		return scope{Label: cat.Name, Tags: cat.Tags}, nil
	default:
		return scope{}, errors.New("either --category or --tags is required")
	}
}

// selectSource picks the named source, falling back to the configured default.
func selectSource(registry *source.Registry, name, fallback string) (source.Source, error) {
	if name == "" {
		name = fallback
	}
	src, ok := registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown or disabled source %q (available: %s)", name, strings.Join(registry.Names(), ", "))
	}
	return src, nil
}

func fetchRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil || globalRegistry == nil || globalDownloader == nil {
		return fmt.Errorf("components not initialized")
	}

	if fetchCount <= 0 {
		return fmt.Errorf("--count must be positive, got %d", fetchCount)
	}
	mediaType, ok := source.ParseMediaType(fetchType)
	if !ok {
		return fmt.Errorf("unknown --type %q (want image or video)", fetchType)
	}
	sc, err := resolveScope(globalCfg, fetchCategory, fetchTags)
	if err != nil {
		return err
	}
	src, err := selectSource(globalRegistry, fetchSource, globalCfg.Sources.Default)
	if err != nil {
		return err
	}

	w := output(cmd)
	tracker := engine.NewBatchTracker(fetchCount)
	globalDownloader.OnProgress = func(done, total int64) {
		if tracker.UpdateBytes(done, total) {
			renderProgress(w, tracker.Snapshot())
		}
	}
	defer func() { globalDownloader.OnProgress = nil }()

	runner := engine.NewRunner(src, globalDownloader, globalRecorder, logger)
	runner.MaxAttempts = globalCfg.Search.MaxAttempts
	runner.OnEvent = func(ev engine.Event) {
		tracker.Observe(ev)
		renderEvent(w, ev)
	}

	fmt.Fprintf(w, "Fetching %d %s item(s) from %s for %s [%s]\n",
		fetchCount, mediaType, src.Name(), sc.Label, strings.Join(sc.Tags, " "))

	summary, runErr := runner.Run(cmd.Context(), engine.Request{
		Count:    fetchCount,
		Tags:     sc.Tags,
		Type:     mediaType,
		Category: sc.Label,
	})
	if summary != nil {
		renderSummary(w, summary)
	}
	if runErr != nil {
		var cfgErr *source.ConfigurationError
		if errors.As(runErr, &cfgErr) {
			return fmt.Errorf("%w (set BOORU_USER_ID and BOORU_API_KEY, or sources.%s.require_credentials: false)", runErr, cfgErr.Source)
		}
		return fmt.Errorf("batch stopped: %w", runErr)
	}
	return nil
}

func renderEvent(w io.Writer, ev engine.Event) {
	prefix := fmt.Sprintf("[%d/%d]", ev.Slot, ev.Count)
	switch ev.Kind {
	case engine.EventSearching:
		fmt.Fprintf(w, "%s searching...\n", prefix)
	case engine.EventFound:
		if ev.Width > 0 && ev.Height > 0 {
			fmt.Fprintf(w, "%s found post %s (%dx%d)\n", prefix, ev.PostID, ev.Width, ev.Height)
		} else {
			fmt.Fprintf(w, "%s found post %s\n", prefix, ev.PostID)
		}
	case engine.EventSucceeded:
		line := fmt.Sprintf("%s saved %s (%s)", prefix, ev.FilePath, stats.FormatBytes(ev.Bytes))
		if ev.Audio != download.AudioUnknown {
			line += fmt.Sprintf(", audio: %s", ev.Audio)
		}
		fmt.Fprintln(w, line)
	case engine.EventFailed:
		fmt.Fprintf(w, "%s failed: %s\n", prefix, ev.Reason)
	}
}

func renderProgress(w io.Writer, p engine.BatchProgress) {
	if p.AssetTotal > 0 {
		fmt.Fprintf(w, "      %5.1f%%  %s / %s\n", p.AssetPercent, stats.FormatBytes(p.AssetBytes), stats.FormatBytes(p.AssetTotal))
		return
	}
	fmt.Fprintf(w, "      %s / unknown\n", stats.FormatBytes(p.AssetBytes))
}

func renderSummary(w io.Writer, s *engine.Summary) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Batch complete: %d successful, %d failed (%s)\n", s.Successful, s.Failed, stats.FormatBytes(s.Bytes))
	fmt.Fprintf(w, "Files saved to: %s\n", s.Directory)
}
