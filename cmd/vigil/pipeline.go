package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/vigil/internal/attr"
	"github.com/bamsammich/vigil/internal/config"
	"github.com/bamsammich/vigil/internal/db"
	"github.com/bamsammich/vigil/internal/digest"
	"github.com/bamsammich/vigil/internal/event"
	"github.com/bamsammich/vigil/internal/logging"
	"github.com/bamsammich/vigil/internal/reconcile"
	"github.com/bamsammich/vigil/internal/report"
	"github.com/bamsammich/vigil/internal/rules"
	"github.com/bamsammich/vigil/internal/scan"
	"github.com/bamsammich/vigil/internal/seltree"
	"github.com/bamsammich/vigil/internal/stats"
)

// app is the state shared by every subcommand once flags and config are
// resolved.
type app struct {
	opts     *options
	cfg      config.Config
	logger   *slog.Logger
	closeLog func() error
	loaded   []*rules.Rule
	stdout   io.Writer
}

func setup(cmd *cobra.Command, opts *options) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, configError(err)
	}
	applyConfigDefaults(cmd, cfg.Defaults, opts)

	logger, closeLog, err := logging.New(logging.Options{
		Stderr:  cmd.ErrOrStderr(),
		File:    opts.logFile,
		Rotate: logging.Rotation{
			MaxSizeMB:  cfg.LogRotation.MaxSize,
			MaxBackups: cfg.LogRotation.MaxBackups,
			MaxAgeDays: cfg.LogRotation.MaxAge,
			Compress:   cfg.LogRotation.Compress,
		},
		Verbose: opts.verbose,
		Quiet:   opts.quiet,
	})
	if err != nil {
		return nil, configError(err)
	}
	slog.SetDefault(logger)
	report.ApplyTheme(cfg.Theme)

	return &app{
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		stdout:   cmd.OutOrStdout(),
	}, nil
}

func (a *app) close() {
	if err := a.closeLog(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
}

// loadRules builds the selection tree. Config groups are defined in name
// order before the rule file is read, so a group may use groups that sort
// before it.
func (a *app) loadRules(sink event.Sink) (*seltree.Tree, error) {
	table := attr.DefaultTable()
	for _, name := range a.cfg.GroupNames() {
		s, err := table.Parse(a.cfg.Groups[name])
		if err != nil {
			return nil, configError(fmt.Errorf("config group %s: %w", name, err))
		}
		if table, err = table.Define(name, s); err != nil {
			return nil, configError(fmt.Errorf("config group %s: %w", name, err))
		}
	}

	p := rules.NewParser(table)
	if err := p.LoadFile(a.opts.rulesPath); err != nil {
		return nil, configError(err)
	}
	a.loaded = p.Rules()
	tree := seltree.New(sink)
	for _, r := range a.loaded {
		if err := tree.Register(r); err != nil {
			return nil, configError(err)
		}
	}
	a.logger.Debug("rules loaded", "file", a.opts.rulesPath, "rules", tree.RuleCount())
	return tree, nil
}

// execute runs one reconciliation pass. in names the old baseline; out is the
// new baseline for compare and the output for init and update.
//
//nolint:gocyclo // wires every stage of the run
func (a *app) execute(ctx context.Context, mode reconcile.Mode, in, out string) error {
	format, err := report.ParseFormat(a.opts.reportFormat)
	if err != nil {
		return configError(err)
	}
	var bwLimit int64
	if a.opts.bwLimit != "" {
		if bwLimit, err = config.ParseSize(a.opts.bwLimit); err != nil {
			return configError(fmt.Errorf("invalid --bwlimit: %w", err))
		}
	}
	var limit *rules.Limit
	if a.opts.limit != "" {
		if limit, err = rules.NewLimit(a.opts.limit); err != nil {
			return configError(fmt.Errorf("invalid --limit: %w", err))
		}
	}

	sink := event.NewLogSink(a.logger)
	tree, err := a.loadRules(sink)
	if err != nil {
		return err
	}

	collector := stats.NewCollector()
	rec := reconcile.New(tree, reconcile.Config{
		Sink:   sink,
		Stats:  collector,
		Logger: a.logger,
		Limit:  limit,
		Mode:   mode,
	})

	var src reconcile.Sources
	if mode != reconcile.Init {
		old, err := a.openDatabase(in)
		if err != nil {
			return err
		}
		defer old.Close()
		src.Old = old
	}
	if mode == reconcile.Compare {
		cur, err := a.openDatabase(out)
		if err != nil {
			return err
		}
		defer cur.Close()
		src.New = cur
	} else {
		scanner := scan.New(scan.Config{
			Digests:    digest.NewProvider(bwLimit),
			Sink:       sink,
			Stats:      collector,
			Logger:     a.logger,
			RootPrefix: a.opts.rootPrefix,
			Workers:    a.opts.workers,
		}, rec)
		defer func() {
			if err := scanner.Close(); err != nil {
				a.logger.Debug("scanner shutdown", "error", err)
			}
		}()
		src.New = scanner
	}

	a.logger.Info("starting run", "mode", mode.String(), "rules", tree.RuleCount(), "root_prefix", a.opts.rootPrefix)
	progressCtx, stopProgress := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if mode != reconcile.Compare {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logProgress(progressCtx, a.logger, collector, progressInterval)
		}()
	}
	sum, err := rec.Populate(ctx, src)
	stopProgress()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("%s: %w", mode, err)
	}

	var written string
	if mode.WritesDatabase() {
		if err := writeDatabase(out, rec); err != nil {
			return err
		}
		written = out
	}

	snap := collector.Snapshot()
	a.logger.Info("run complete", "mode", mode.String(), "summary", sum.String(), "elapsed", snap.Elapsed)

	err = report.Write(a.stdout, tree, sum, report.Options{
		Format:  format,
		Mode:    mode,
		Verbose: a.opts.verbose,
		Color:   format == report.Plain && colorFor(a.stdout),
		Output:  written,
		Stats:   &snap,
	})
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if mode == reconcile.Init {
		return nil
	}
	if code := differenceCode(sum); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// progressInterval is the number of one-second ticks between progress lines.
const progressInterval = 10

// logProgress ticks c once a second and logs the scan rate every n ticks
// until ctx is done.
func logProgress(ctx context.Context, logger *slog.Logger, c *stats.Collector, n int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
			if tick%n != 0 {
				continue
			}
			s := c.Snapshot()
			logger.Info("scanning",
				"entries", s.EntriesScanned,
				"entries_per_sec", fmt.Sprintf("%.0f", c.RollingEntriesPerSec(n)),
				"hashed", stats.FormatBytes(s.BytesHashed),
			)
		}
	}
}

func (a *app) openDatabase(url string) (db.Reader, error) {
	r, err := db.Open(url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	h := r.Header()
	a.logger.Debug("opened database", "url", url, "created", h.Created, "version", h.Version)
	return r, nil
}

func writeDatabase(url string, rec *reconcile.Reconciler) error {
	w, err := db.Create(url)
	if err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	if err := rec.Output(w.Write); err != nil {
		_ = w.Abort() //nolint:errcheck // the write error is what matters
		return fmt.Errorf("write database: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write database: %w", err)
	}
	return nil
}

func colorFor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && report.ColorEnabled(f.Fd())
}

// differenceCode folds a summary into the exit code bits.
func differenceCode(s reconcile.Summary) int {
	code := 0
	if s.Added > 0 {
		code |= exitAdded
	}
	if s.Removed > 0 {
		code |= exitRemoved
	}
	if s.Changed > 0 {
		code |= exitChanged
	}
	return code
}
