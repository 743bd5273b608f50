// Command ragheal is the CLI front end for the ragheal engine: a
// chat REPL, a one-shot question-answering command, and two
// ingestion commands, all sharing the same Engine configuration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ragheal/ragheal"
	"github.com/ragheal/ragheal/retrieval"
)

var (
	configPath string
	concise    bool
	internal   bool
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, "ragheal:", err)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		os.Exit(130)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragheal",
		Short: "Self-optimizing retrieval-augmented question answering engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().BoolVar(&concise, "concise", false, "concise response mode (default)")
	root.PersistentFlags().BoolVar(&internal, "internal", false, "internal response mode")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose response mode")

	root.AddCommand(newChatCommand())
	root.AddCommand(newAskCommand())
	root.AddCommand(newIngestTableCommand())
	root.AddCommand(newIngestPathCommand())
	return root
}

// resolveMode applies the mutually exclusive --concise/--internal/
// --verbose flags, defaulting to concise when none is set.
func resolveMode() (retrieval.ResponseMode, error) {
	set := 0
	mode := retrieval.ModeConcise
	if concise {
		set++
		mode = retrieval.ModeConcise
	}
	if internal {
		set++
		mode = retrieval.ModeInternal
	}
	if verbose {
		set++
		mode = retrieval.ModeVerbose
	}
	if set > 1 {
		return "", fmt.Errorf("only one of --concise, --internal, --verbose may be set")
	}
	return mode, nil
}

// newEngine loads configuration (YAML file plus RAGHEAL_* environment
// overrides) and builds an Engine. chatMode selects a JSON handler on
// stdout (the long-running chat REPL, matching teacher's server-style
// logging) versus a text handler on stderr for one-shot commands, so
// piped ask/ingest-* output stays clean.
func newEngine(chatMode bool) (*ragheal.Engine, error) {
	if chatMode {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
	}

	cfg, err := ragheal.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return ragheal.New(cfg)
}
