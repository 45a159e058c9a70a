package main

import (
	"fmt"
	"sort"

	"github.com/polisai/polis-chain/pkg/logging"
	"github.com/polisai/polis-chain/pkg/pipeline"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Build every configured chain and report configuration errors",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
	cmd.Flags().BoolP("verbose", "v", false, "List the entries of every chain")
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	flags, err := parseGlobalFlags(cmd)
	if err != nil {
		return err
	}
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return fmt.Errorf("failed to get verbose flag: %w", err)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	a := newApp(cfg, logging.Discard())
	defer func() { _ = a.close() }()

	chains, err := a.newBuilder(cfg.Interceptors.Order).BuildAll(cfg.Chains)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(chains))
	for name := range chains {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	for _, name := range names {
		chain := chains[name]
		marker := ""
		if name == cfg.Server.DefaultChain {
			marker = " (default)"
		}
		fmt.Fprintf(out, "ok %s%s: %d handlers\n", name, marker, chain.Len())
		if verbose {
			for i, h := range chain.Handlers() {
				fmt.Fprintf(out, "  %d. %s\n", i+1, pipeline.NameOf(h))
			}
		}
	}
	fmt.Fprintf(out, "%d chains valid\n", len(names))
	return nil
}
