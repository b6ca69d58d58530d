package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sceneport/internal/config"
	"sceneport/internal/logging"
	"sceneport/internal/oracle"
	"sceneport/internal/pipeline"
)

var (
	configPath string
	verbose    bool
	outputDir  string
	workers    int
	noResume   bool

	logger *zap.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "sceneport",
	Short: "sceneport - ManimGL to ManimCE scene converter",
	Long: `sceneport converts ManimGL scene source to ManimCE through a staged
pipeline: dependency closure extraction, rule-based rewriting, static
validation with deterministic auto-fixes, execution validation, and a
bounded LLM repair loop for whatever remains. Every attempt, finding,
and verdict lands in an append-only provenance store.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if workers > 0 {
			cfg.Pipeline.Workers = workers
		}
		if noResume {
			cfg.Pipeline.ResumeEnabled = false
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		return logging.Initialize(".", logging.Options{
			Debug:      cfg.Logging.DebugMode || verbose,
			Level:      level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch [corpus-dir]",
	Short: "Convert every scene class found in a corpus directory",
	Long: `Indexes all Python files under corpus-dir, discovers scene classes,
and converts each one as an independent unit across the worker pool.
Accepted units are written to the output directory; the batch summary
is printed at the end.

A previously interrupted batch resumes from its checkpoints unless
--no-resume is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var convertCmd = &cobra.Command{
	Use:   "convert [corpus-dir] [scene-name]",
	Short: "Convert a single scene class and print the result",
	Args:  cobra.ExactArgs(2),
	RunE:  runConvert,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize the provenance store of previous runs",
	RunE:  runReport,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sceneport.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "Override pipeline worker count")

	batchCmd.Flags().StringVarP(&outputDir, "out", "o", "converted", "Directory for accepted unit files")
	batchCmd.Flags().BoolVar(&noResume, "no-resume", false, "Ignore checkpoints from previous runs")

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM so a batch
// checkpoints and exits instead of dying mid-unit.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Warn("interrupt received, cancelling; progress is checkpointed")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func newOracleClient(ctx context.Context) (oracle.Client, error) {
	switch cfg.Oracle.Provider {
	case "", "gemini":
		return oracle.NewGemini(ctx, cfg.Oracle)
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Oracle.Provider)
	}
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newOracleClient(ctx)
	if err != nil {
		return err
	}
	runner, err := pipeline.New(cfg, client)
	if err != nil {
		return err
	}
	defer runner.Close()

	if err := runner.LoadCorpus(ctx, args[0]); err != nil {
		return err
	}
	if err := runner.StartWatchers(ctx); err != nil {
		return err
	}

	names := runner.SceneNames()
	if len(names) == 0 {
		return fmt.Errorf("no scene classes found under %s", args[0])
	}
	logger.Info("starting batch",
		zap.Int("units", len(names)),
		zap.Int("workers", cfg.Pipeline.Workers))

	batch, err := runner.RunBatch(ctx)
	if err != nil {
		return err
	}

	if err := writeAccepted(batch, outputDir); err != nil {
		return err
	}
	fmt.Println(renderBatch(batch))
	return nil
}

// writeAccepted emits one .py file per accepted unit.
func writeAccepted(batch *pipeline.BatchReport, dir string) error {
	wrote := 0
	for _, rep := range batch.Reports {
		if rep.FinalText == "" {
			continue
		}
		if wrote == 0 {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}
		path := filepath.Join(dir, rep.Name+".py")
		if err := os.WriteFile(path, []byte(rep.FinalText), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		wrote++
	}
	if wrote > 0 {
		logger.Info("wrote accepted units", zap.Int("count", wrote), zap.String("dir", dir))
	}
	return nil
}

func runConvert(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	client, err := newOracleClient(ctx)
	if err != nil {
		return err
	}
	runner, err := pipeline.New(cfg, client)
	if err != nil {
		return err
	}
	defer runner.Close()

	if err := runner.LoadCorpus(ctx, args[0]); err != nil {
		return err
	}
	rep, err := runner.ConvertScene(ctx, args[1])
	if err != nil {
		return err
	}

	fmt.Println(renderUnit(rep))
	if rep.FinalText != "" {
		fmt.Println(rep.FinalText)
	}
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	client := oracle.NewScripted() // report never calls the oracle
	runner, err := pipeline.New(cfg, client)
	if err != nil {
		return err
	}
	defer runner.Close()

	summary, err := runner.Store().BatchSummary(cfg.Oracle.MaxAttempts)
	if err != nil {
		return err
	}
	fmt.Println(renderSummary(summary))
	return nil
}
