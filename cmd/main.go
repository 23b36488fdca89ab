package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"dmsp/internal/chunk"
	"dmsp/internal/classifier"
	"dmsp/internal/config"
	"dmsp/internal/manifest"
	"dmsp/internal/peptide"
	"dmsp/internal/pipeline"
	"dmsp/internal/runlog"
	"dmsp/internal/stats"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// version is the program version. It can be overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks errors caused by how the program was invoked.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ue usageError
	if errors.As(err, &ue) || errors.Is(err, config.ErrInvalid) {
		return exitUsage
	}
	return exitFailure
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// newRootCmd builds the CLI around a fresh viper instance.
func newRootCmd(stderr io.Writer) *cobra.Command {
	v := config.New()
	var (
		configPath string
		verbose    bool
	)
	root := &cobra.Command{
		Use:   "dmsp <input.tsv> <output.tsv>",
		Short: "Predict peptide detectability for an accession<TAB>peptide file, chunk by chunk",
		Long: `dmsp encodes every peptide of a tab-separated accession/peptide file into a
fixed-width integer vector, asks a trained classifier for the probability of
each, and writes Header<TAB>Peptide<TAB>Prob<TAB>Detectability rows.

The input is processed in chunks of chunk_size lines so memory stays bounded.
Settings come from ./config.json (or --config), DMSP_* environment variables
and flags, in increasing precedence.`,
		Version:       version,
		Args:          exactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v.Set("input", args[0])
			v.Set("output", args[1])
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return usageError{err}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return detect(cmd.Context(), cfg, stderr, verbose)
		},
	}
	root.SetOut(stderr)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a config file (default ./config.json, optional)")
	pf.BoolVar(&verbose, "verbose", false, "enable verbose (debug) logging")
	pf.String("log-file", "", "also append logs to this file")
	pf.String("log-level", "info", "debug, info, warn or error")

	f := root.Flags()
	f.Int("chunk-size", chunk.DefaultSize, "lines per processing chunk")
	f.Int("max-length", peptide.DefaultMaxLength, "longest accepted peptide; vectors are padded to this width")
	f.String("runs-db", "", "record the run in this sqlite ledger")
	f.Bool("manifest", false, "write <output>.info.toml next to the predictions")
	f.Bool("progress", false, "show a chunk progress bar")
	f.String("model-backend", classifier.BackendTFServing, "tfserving or command")
	f.String("model-url", "http://localhost:8501", "TensorFlow Serving base URL")
	f.String("model-name", "dmsp", "served model name")
	f.String("model-version", "", "served model version (default: latest)")
	f.String("model-command", "", "prediction process for the command backend")

	bind(v, pf, map[string]string{"log_file": "log-file", "log_level": "log-level"})
	bind(v, f, map[string]string{
		"chunk_size":    "chunk-size",
		"max_length":    "max-length",
		"runs_db":       "runs-db",
		"manifest":      "manifest",
		"progress":      "progress",
		"model.backend": "model-backend",
		"model.url":     "model-url",
		"model.name":    "model-name",
		"model.version": "model-version",
		"model.command": "model-command",
	})

	root.AddCommand(newFastaCmd(stderr, &verbose))
	return root
}

type flagLookup interface {
	Lookup(name string) *pflag.Flag
}

func bind(v *viper.Viper, fs flagLookup, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, fs.Lookup(name))
	}
}

// detect runs the pipeline with everything the config asks for around it:
// logging, the run ledger, the progress bar and the manifest.
func detect(ctx context.Context, cfg *config.Config, stderr io.Writer, verbose bool) (err error) {
	var bar *progressBar
	var logOut io.Writer = stderr
	if cfg.Progress {
		bar = newProgressBar(stderr)
		logOut = bar
	}

	sink, sinkErr := openLogSink(logOut, cfg.LogFile)
	defer sink.Close()
	logger, knownLevel := newLogger(sink.out, verbose, cfg.LogLevel)
	if !knownLevel {
		logger.Warn("unknown log_level in config, defaulting to info", "provided", cfg.LogLevel)
	}
	if sinkErr != nil {
		logger.Warn("log_file specified but could not be opened; logging to stderr only", "path", cfg.LogFile, "err", sinkErr)
	}
	logger.Debug("loaded config", "input", cfg.Input, "output", cfg.Output, "chunk_size", cfg.ChunkSize,
		"max_length", cfg.MaxLength, "log_file", cfg.LogFile, "log_level", cfg.LogLevel, "runs_db", cfg.RunsDB,
		"model_backend", cfg.Model.Backend, "model_url", cfg.Model.URL, "model_name", cfg.Model.Name)
	logger.Info("starting dmsp", "version", version, "input", cfg.Input, "output", cfg.Output, "model", cfg.ModelLabel())

	var runs *ledger
	if cfg.RunsDB != "" {
		runs, err = openLedger(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer runs.close()
	}

	mc := cfg.Classifier()
	mc.Stderr = sink.out
	set := pipeline.Settings{
		Input:     cfg.Input,
		Output:    cfg.Output,
		ChunkSize: cfg.ChunkSize,
		MaxLength: cfg.MaxLength,
		Model:     func(ctx context.Context) (classifier.Classifier, error) { return classifier.Load(ctx, mc) },
	}
	hooks := pipeline.Hooks{
		OnScan: func(idx *chunk.Index) {
			if bar != nil {
				bar.start(idx.Chunks())
			}
			runs.started(ctx, idx)
		},
		OnChunk: func(w chunk.Window, r stats.Report) {
			if bar != nil {
				bar.increment()
			}
			runs.progress(ctx, r.Totals)
		},
	}

	res, err := pipeline.Run(ctx, set, logger, hooks)
	if bar != nil {
		bar.finish(err == nil)
	}
	runs.finish(ctx, res.Totals, err)
	if err != nil {
		logger.Error("run failed", "err", err)
		return err
	}

	if cfg.Manifest {
		info := &manifest.Info{
			RunID:           runs.id(),
			AlphabetVersion: peptide.AlphabetVersion,
			Alphabet:        peptide.Alphabet(),
			MaxLength:       cfg.MaxLength,
			ChunkSize:       cfg.ChunkSize,
			Input:           cfg.Input,
			Lines:           res.Lines,
			Chunks:          res.Chunks,
			Output:          cfg.Output,
			Rows:            res.Rows,
			Model:           manifest.Model{Backend: cfg.Model.Backend, Name: cfg.Model.Name, Version: cfg.Model.Version, Command: cfg.Model.Command},
			Totals:          res.Totals,
		}
		if cfg.Model.Backend == classifier.BackendCommand {
			info.Model.Name, info.Model.Version = "", ""
		}
		if err := manifest.Write(info); err != nil {
			logger.Error("failed to write manifest", "err", err)
			return err
		}
		logger.Info("wrote manifest", "path", manifest.Path(cfg.Output))
	}

	fmt.Fprintln(stderr, summary(cfg.Output, res))
	return nil
}

// ledger records a run in the sqlite run log. A nil ledger ignores every call
// so the pipeline hooks need no checks. Ledger write failures are logged and
// never fail the run.
type ledger struct {
	store  *runlog.Store
	run    runlog.Run
	logger *log.Logger
}

func openLedger(ctx context.Context, cfg *config.Config, logger *log.Logger) (*ledger, error) {
	store, err := runlog.Open(cfg.RunsDB)
	if err != nil {
		return nil, err
	}
	run, err := store.Create(ctx, runlog.Run{
		Input:     cfg.Input,
		Output:    cfg.Output,
		Model:     cfg.ModelLabel(),
		ChunkSize: cfg.ChunkSize,
		MaxLength: cfg.MaxLength,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("recorded run", "id", run.ID, "runs_db", cfg.RunsDB)
	return &ledger{store: store, run: run, logger: logger}, nil
}

func (l *ledger) id() string {
	if l == nil {
		return ""
	}
	return l.run.ID
}

func (l *ledger) started(ctx context.Context, idx *chunk.Index) {
	if l == nil {
		return
	}
	if err := l.store.Start(ctx, l.run.ID, idx.Lines, idx.Chunks()); err != nil {
		l.logger.Warn("runs db update failed", "err", err)
	}
}

func (l *ledger) progress(ctx context.Context, totals stats.Counts) {
	if l == nil {
		return
	}
	if err := l.store.Progress(ctx, l.run.ID, totals); err != nil {
		l.logger.Warn("runs db update failed", "err", err)
	}
}

func (l *ledger) finish(ctx context.Context, totals stats.Counts, runErr error) {
	if l == nil {
		return
	}
	// the run context may already be cancelled
	if err := l.store.Finish(context.WithoutCancel(ctx), l.run.ID, totals, runErr); err != nil {
		l.logger.Warn("runs db update failed", "err", err)
	}
}

func (l *ledger) close() {
	if l == nil {
		return
	}
	_ = l.store.Close()
}
