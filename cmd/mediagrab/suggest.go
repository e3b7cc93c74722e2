package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var suggestSource string

func newSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest TERM",
		Short: "Autocomplete a tag",
		Long: `Ask the source for tags starting with TERM. Sources without an
autocomplete endpoint, and any lookup failure, produce no suggestions.`,
		Example: `  mediagrab suggest cat
  mediagrab suggest --source booru blue_`,
		Args: cobra.ExactArgs(1),
		RunE: suggestRun,
	}

	cmd.Flags().StringVar(&suggestSource, "source", "", "source to query (defaults to sources.default)")

	return cmd
}

func suggestRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil || globalRegistry == nil {
		return fmt.Errorf("components not initialized")
	}

	src, err := selectSource(globalRegistry, suggestSource, globalCfg.Sources.Default)
	if err != nil {
		return err
	}

	suggestions := src.SuggestTags(cmd.Context(), strings.TrimSpace(args[0]))
	w := cmd.OutOrStdout()
	if len(suggestions) == 0 {
		fmt.Fprintln(w, "No suggestions")
		return nil
	}
	for _, s := range suggestions {
		fmt.Fprintln(w, s)
	}
	return nil
}
