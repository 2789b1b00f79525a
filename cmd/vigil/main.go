package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/vigil/internal/config"
	"github.com/bamsammich/vigil/internal/report"
)

var version = "dev"

// Exit codes. The low bits are combined when a run finds differences.
const (
	exitAdded   = 1
	exitRemoved = 2
	exitChanged = 4
	exitConfig  = 16
	exitRuntime = 17
)

const (
	defaultRules       = "/etc/vigil/vigil.rules"
	defaultDatabase    = "file:/var/lib/vigil/vigil.db"
	defaultDatabaseOut = "file:/var/lib/vigil/vigil.db.new"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the persistent flags shared by every subcommand.
type options struct {
	configPath   string
	rulesPath    string
	database     string
	databaseOut  string
	rootPrefix   string
	limit        string
	bwLimit      string
	reportFormat string
	logFile      string
	workers      int
	verbose      bool
	quiet        bool
	showVersion  bool
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", exitErr.err)
		}
		return exitErr.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitRuntime
}

// formatFlag rejects unknown report formats while flags are parsed.
type formatFlag struct {
	format *string
}

var _ pflag.Value = formatFlag{}

func (f formatFlag) String() string {
	if f.format == nil {
		return ""
	}
	return *f.format
}

func (formatFlag) Type() string { return "format" }

func (f formatFlag) Set(val string) error {
	if _, err := report.ParseFormat(val); err != nil {
		return err
	}
	*f.format = val
	return nil
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{reportFormat: string(report.Plain)}

	rootCmd := &cobra.Command{
		Use:   "vigil",
		Short: "File integrity monitor: record a baseline and report what changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "vigil %s\n", version)
				return nil
			}
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return configError(err)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/vigil/config.toml)")
	pf.StringVarP(&opts.rulesPath, "rules", "r", defaultRules, "selection rule file")
	pf.StringVar(&opts.database, "database", defaultDatabase, "baseline to read (file:PATH, sqlite:PATH or badger:DIR)")
	pf.StringVar(&opts.databaseOut, "database-out", defaultDatabaseOut, "baseline to write in init and update")
	pf.StringVar(&opts.rootPrefix, "root-prefix", "", "scan the filesystem mounted at DIR instead of /")
	pf.StringVarP(&opts.limit, "limit", "l", "", "only check paths matching REGEX")
	pf.StringVar(&opts.bwLimit, "bwlimit", "", "digest read limit in bytes per second (e.g. 100M)")
	pf.Var(formatFlag{format: &opts.reportFormat}, "report-format", "report format (plain or json)")
	pf.StringVar(&opts.logFile, "log", "", "write structured JSON log to FILE")
	pf.IntVarP(&opts.workers, "workers", "n", 0, "concurrent digest workers (default: min(NumCPU, 8))")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&opts.quiet, "quiet", "q", false, "only log warnings and errors")
	rootCmd.Flags().BoolVar(&opts.showVersion, "version", false, "print version and exit")

	rootCmd.AddCommand(
		modeCmd(opts, "init", "Scan the filesystem and write a new baseline"),
		modeCmd(opts, "check", "Compare the filesystem against the baseline"),
		modeCmd(opts, "update", "Check the filesystem and write an updated baseline"),
		compareCmd(opts),
		configCheckCmd(opts),
		newDocsCmd(),
	)
	return rootCmd
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
//
//nolint:gocyclo // one branch per flag
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig, opts *options) {
	changed := cmd.Flags().Changed
	if !changed("rules") && defaults.Rules != nil {
		opts.rulesPath = *defaults.Rules
	}
	if !changed("database") && defaults.Database != nil {
		opts.database = *defaults.Database
	}
	if !changed("database-out") && defaults.DatabaseOut != nil {
		opts.databaseOut = *defaults.DatabaseOut
	}
	if !changed("root-prefix") && defaults.RootPrefix != nil {
		opts.rootPrefix = *defaults.RootPrefix
	}
	if !changed("workers") && defaults.Workers != nil {
		opts.workers = *defaults.Workers
	}
	if !changed("bwlimit") && defaults.BWLimit != nil {
		opts.bwLimit = *defaults.BWLimit
	}
	if !changed("report-format") && defaults.ReportFormat != nil {
		opts.reportFormat = *defaults.ReportFormat
	}
	if !changed("log") && defaults.Log != nil {
		opts.logFile = *defaults.Log
	}
}

type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error {
	return &exitError{code: exitConfig, err: err}
}
