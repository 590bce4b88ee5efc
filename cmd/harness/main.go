package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/launchcheck/funnel-harness/internal/browser"
	"github.com/launchcheck/funnel-harness/internal/cache"
	"github.com/launchcheck/funnel-harness/internal/engine"
	"github.com/launchcheck/funnel-harness/internal/llm"
	"github.com/launchcheck/funnel-harness/internal/runlog"
	"github.com/launchcheck/funnel-harness/internal/scenario"
)

var (
	flagCachePath string
	flagLogFile   string
	flagTracePath string
	flagVerbose   bool
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "harness",
		Short:         "Adaptive signup-funnel test harness",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}
	root.PersistentFlags().StringVar(&flagCachePath, "cache", "harness-cache.json", "Path to the step cache store")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Also write logs to this rotating file")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")

	runCmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute one scenario against the live funnel",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	runCmd.Flags().StringVar(&flagTracePath, "trace", "", "Write the step-by-step run trace to this JSON file")

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or reset the step cache",
	}
	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print aggregate cache statistics",
			Args:  cobra.NoArgs,
			RunE:  cacheStats,
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Empty the cache store",
			Args:  cobra.NoArgs,
			RunE:  cacheClear,
		},
	)

	root.AddCommand(runCmd, cacheCmd)
	return root
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr}
	if flagLogFile != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   flagLogFile,
			MaxSize:    20, // MB
			MaxBackups: 5,
			Compress:   true,
		})
	}
	log.Logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func runScenario(cmd *cobra.Command, args []string) error {
	scn, err := scenario.Load(args[0])
	if err != nil {
		log.Error().Err(err).Msg("load scenario")
		return err
	}

	store, err := cache.Load(flagCachePath)
	if err != nil {
		log.Error().Err(err).Msg("load cache")
		return err
	}

	aiClient, err := llm.NewFromEnv(log.With().Str("comp", "llm").Logger())
	if err != nil {
		log.Error().Err(err).Msg("llm init")
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	launcher, err := browser.NewLauncher(ctx)
	if err != nil {
		log.Error().Err(err).Msg("browser init")
		return err
	}
	defer launcher.Close()

	ctrl, err := launcher.NewController(ctx)
	if err != nil {
		log.Error().Err(err).Msg("browser controller")
		return err
	}
	defer ctrl.Close(ctx)

	eng := engine.New(ctrl, store, aiClient, scn, log.Logger)
	outcome, runErr := eng.Run(ctx)

	if flagTracePath != "" {
		if werr := writeTrace(flagTracePath, outcome, eng.Trace().Steps()); werr != nil {
			log.Error().Err(werr).Msg("write trace")
		}
	}

	fmt.Printf("run %s: success=%v steps=%d final=%s\n",
		outcome.RunID, outcome.Success, outcome.Steps, outcome.FinalURL)
	if outcome.Reason != "" {
		fmt.Printf("reason: %s\n", outcome.Reason)
	}

	if runErr != nil {
		return runErr
	}
	if !outcome.Success {
		return fmt.Errorf("scenario did not reach a success state")
	}
	return nil
}

// writeTrace dumps the outcome plus the full step trace for offline review.
func writeTrace(path string, outcome runlog.Outcome, steps []runlog.Step) error {
	doc := struct {
		Outcome runlog.Outcome `json:"outcome"`
		Steps   []runlog.Step  `json:"steps"`
	}{Outcome: outcome, Steps: steps}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func cacheStats(cmd *cobra.Command, args []string) error {
	store, err := cache.Load(flagCachePath)
	if err != nil {
		return err
	}
	stats := store.Stats()
	fmt.Printf("pages:        %d\n", stats.PageCount)
	fmt.Printf("steps:        %d\n", stats.TotalSteps)
	fmt.Printf("successes:    %d\n", stats.TotalSuccesses)
	fmt.Printf("attempts:     %d\n", stats.TotalAttempts)
	fmt.Printf("success rate: %.1f%%\n", stats.OverallSuccessRate*100)

	for _, e := range store.Entries() {
		fmt.Printf("  %-40s steps=%d ok=%d/%d\n", e.PageKey, len(e.Steps), e.SuccessCount, e.TotalAttempts)
	}
	return nil
}

func cacheClear(cmd *cobra.Command, args []string) error {
	store, err := cache.Load(flagCachePath)
	if err != nil {
		return err
	}
	if err := store.Clear(); err != nil {
		return err
	}
	fmt.Println("cache cleared")
	return nil
}
