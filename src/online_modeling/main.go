// Online modeling of a simulated plant
// ------------------------------------------------------------
// A controller drives the plant while a neural network learns to predict the
// state change from (state, control). The model is retrained in the
// background on a fixed wall-clock cadence; the simulation keeps querying the
// latest model and logs actual vs. predicted states.
//
// Output folder: <output_root>/<exp_name>/
//   - config.yaml                      effective configuration
//   - initial_model.json, final_model.json
//   - model_hist.csv                   loss, val_loss per update
//   - episode_<k>.csv, validation.csv
//   - plots/*.png                      (unless --no_plot)
//   - frames/episode_<k>/*.png, episode_<k>.mp4 (with --render, ffmpeg on PATH)
//
// Run history of all experiments: <output_root>/history.db
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/config"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/experiment"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/history"
	"github.com/mohammadijoo/Online_Modeling_GO/src/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string
	outputRoot string

	// run flags
	noPlot      bool
	nEps        int
	nSteps      int
	bufferSize  int
	valDataSize int
	batchSize   int
	plantName   string
	controller  string
	renderVideo bool
	seed        int64

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "online_modeling",
	Short: "Learn a model of a simulated plant while it is being controlled",
	Long: `online_modeling drives a simulated plant (pendulum or cart-pole) with a
controller, stores the observed transitions in a rolling buffer and retrains
a neural network in the background to predict the state change.

Settings come from --config (YAML, optional) and are overridden by flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if len(args) > 0 {
			cfg.Name = args[0]
		}
		applyFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		// the run log goes next to the results
		logDir := ""
		if cmd.Name() == "run" {
			logDir = cfg.Dir()
			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return fmt.Errorf("cannot create experiment folder: %w", err)
			}
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format, verbose, logDir)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var runCmd = &cobra.Command{
	Use:   "run <exp_name>",
	Short: "Run an experiment",
	Long: `Simulates the configured episodes while the model is retrained in the
background, then saves the models, the data and the figures.

Example:
  online_modeling run swing --n_eps 3 --n_steps 500 --batch_size 32`,
	Args: cobra.ExactArgs(1),
	RunE: runExperiment,
}

var compareCmd = &cobra.Command{
	Use:   "compare <exp_name>",
	Short: "Compare the initial and final model of a finished experiment",
	Long: `Rolls both saved models out over the experiment's validation data,
starting from the first validation state and applying the recorded controls,
and redraws the comparison figures.`,
	Args: cobra.ExactArgs(1),
	RunE: compareModels,
}

var runsCmd = &cobra.Command{
	Use:   "runs [exp_name]",
	Short: "List recorded runs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  listRuns,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML experiment configuration")
	rootCmd.PersistentFlags().StringVar(&outputRoot, "output_root", "", "Folder holding the experiments (default: experiments)")
	rootCmd.PersistentFlags().BoolVar(&noPlot, "no_plot", false, "Do not produce figures")

	f := runCmd.Flags()
	f.IntVar(&nEps, "n_eps", 1, "Number of episodes")
	f.IntVar(&nSteps, "n_steps", 300, "Time steps per episode")
	f.IntVar(&bufferSize, "buffer_size", 100, "Experience buffer size")
	f.IntVar(&valDataSize, "val_data_size", 100, "Validation set size")
	f.IntVar(&batchSize, "batch_size", 16, "Training batch size")
	f.StringVar(&plantName, "plant", "pendulum", "Plant: pendulum, cartpole")
	f.StringVar(&controller, "controller", "random", "Controller: random, sliding-mode")
	f.BoolVar(&renderVideo, "render", false, "Render frames and encode an MP4 per episode")
	f.Int64Var(&seed, "seed", 0, "Random seed (0: time based)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(runsCmd)
}

// applyFlags copies the flags given on the command line into cfg.
func applyFlags(cmd *cobra.Command) {
	set := cmd.Flags().Changed
	if set("output_root") {
		cfg.OutputRoot = outputRoot
	}
	if set("no_plot") {
		cfg.Output.Plot = !noPlot
	}
	if set("n_eps") {
		cfg.Simulation.Episodes = nEps
	}
	if set("n_steps") {
		cfg.Simulation.Steps = nSteps
	}
	if set("buffer_size") {
		cfg.Memory.BufferSize = bufferSize
	}
	if set("val_data_size") {
		cfg.Memory.ValidationSize = valDataSize
	}
	if set("batch_size") {
		cfg.Training.BatchSize = batchSize
	}
	if set("plant") {
		cfg.Simulation.Plant = plantName
	}
	if set("controller") {
		cfg.Simulation.Controller = controller
	}
	if set("render") {
		cfg.Output.RenderFrames = renderVideo
	}
	if set("seed") {
		cfg.Seed = seed
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runExperiment(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := experiment.New(cfg, logger)
	if err != nil {
		return err
	}
	res, err := r.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d model updates, results in %s\n", res.RunID, len(res.Updates), res.Dir)
	for _, ro := range res.Rollouts {
		fmt.Fprintf(cmd.OutOrStdout(), "  %-20s rmse %.6f\n", ro.Name, ro.RMSE())
	}
	return nil
}

func compareModels(cmd *cobra.Command, args []string) error {
	rollouts, err := experiment.Compare(cfg.Dir(), !cfg.Output.Plot, logger)
	if err != nil {
		return err
	}
	for _, ro := range rollouts {
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s rmse %.6f\n", ro.Name, ro.RMSE())
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	path := cfg.Output.HistoryDB
	if path == "" {
		return fmt.Errorf("no history database configured")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.OutputRoot, path)
	}
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	ctx := contextOrBackground(cmd)
	runs, err := store.Runs(ctx, name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPLANT\tCONTROLLER\tSTARTED\tDURATION\tUPDATES")
	for _, run := range runs {
		updates, err := store.Updates(ctx, run.ID)
		if err != nil {
			return err
		}
		duration := "running"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			run.ID, run.Name, run.Plant, run.Controller,
			run.StartedAt.Format(time.RFC3339), duration, len(updates))
	}
	return w.Flush()
}

// contextOrBackground returns the command context, which is nil when a
// command was not started through Execute.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
