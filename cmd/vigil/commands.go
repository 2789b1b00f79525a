package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/reconcile"
	"github.com/bamsammich/vigil/internal/report"
)

func modeCmd(opts *options, name, short string) *cobra.Command {
	mode, err := reconcile.ParseMode(name)
	if err != nil {
		panic(err)
	}
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()
			return a.execute(cmd.Context(), mode, opts.database, opts.databaseOut)
		},
	}
}

func compareCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "compare [OLD NEW]",
		Short: "Compare two baselines without touching the filesystem",
		Long: "Compare two baselines. Without arguments the databases named by\n" +
			"--database and --database-out are compared.",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return configError(fmt.Errorf("compare takes no arguments or exactly two databases, got %d", len(args)))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()
			oldURL, newURL := opts.database, opts.databaseOut
			if len(args) == 2 {
				oldURL, newURL = args[0], args[1]
			}
			return a.execute(cmd.Context(), reconcile.Compare, oldURL, newURL)
		},
	}
}

func configCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config-check",
		Short: "Validate the config file and the rule file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer a.close()
			tree, err := a.loadRules(event.NewLogSink(a.logger))
			if err != nil {
				return err
			}
			if opts.verbose {
				report.RuleTable(a.stdout, a.loaded)
			}
			fmt.Fprintf(a.stdout, "%s: %d rules, %d config groups OK\n", opts.rulesPath, tree.RuleCount(), len(a.cfg.Groups))
			return nil
		},
	}
}
