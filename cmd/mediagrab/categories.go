package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the predefined categories",
		Long: `List the categories configured for "fetch --category". Each category
searches with its tag set; use "fetch --tags" for anything else.`,
		Example: `  mediagrab categories`,
		Args:    cobra.NoArgs,
		RunE:    categoriesRun,
	}
}

func categoriesRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-4s %-16s %s\n", "ID", "Name", "Tags")
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, c := range globalCfg.Categories {
		fmt.Fprintf(w, "%-4d %-16s %s\n", c.ID, c.Name, strings.Join(c.Tags, " "))
	}
	return nil
}
