package main

import (
	"fmt"

	"github.com/polisai/polis-chain/pkg/pathmatch"
	"github.com/spf13/cobra"
)

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <pattern> <path>...",
		Short: "Evaluate a path pattern against request paths",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runMatch,
	}
	cmd.Flags().Bool("dotted", false, "Treat dots in paths as segment separators")
	return cmd
}

func runMatch(cmd *cobra.Command, args []string) error {
	dotted, err := cmd.Flags().GetBool("dotted")
	if err != nil {
		return fmt.Errorf("failed to get dotted flag: %w", err)
	}
	var opts []pathmatch.Option
	if dotted {
		opts = append(opts, pathmatch.WithDottedPaths())
	}

	m, err := pathmatch.Compile(args[0], opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pattern %q: directory=%q leaf=%q descendants=%t\n",
		m.Pattern(), m.DirectoryPattern(), m.LeafPattern(), m.AffectsDescendants())
	for _, path := range args[1:] {
		result := "no match"
		if m.Match(path) {
			result = "match"
		}
		fmt.Fprintf(out, "%-8s %s\n", result, path)
	}
	return nil
}
