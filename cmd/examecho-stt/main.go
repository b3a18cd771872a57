package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/examecho/examecho-stt/internal/config"
	"github.com/examecho/examecho-stt/internal/errs"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

type globalOptions struct {
	configPath string
	envFile    string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "examecho-stt",
		Short: "Transcribe recorded answers to text",
		Long: `Transcribe recorded answers to text.

Audio is normalized to mono 16 kHz with ffmpeg, leading and trailing silence
is trimmed, long recordings are split into chunks, and the chunks are sent to
the configured speech recognition backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "configuration file (defaults only when empty)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with EXAMECHO_* overrides")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "V", false, "log pipeline progress to stderr")

	root.AddCommand(
		newTranscribeCmd(opts),
		newBackendsCmd(opts),
		newJobsCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// load reads the env file and configuration. Logs stay quiet unless
// --verbose is set, so stdout carries only the transcript.
func (o *globalOptions) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, nil, fmt.Errorf("load env file %s: %w", o.envFile, err)
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, err
	}
	level := slog.LevelWarn
	if o.verbose {
		level = min(cfg.Telemetry.SlogLevel(), slog.LevelInfo)
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

// exitCode gives each error kind its own status so scripts can tell bad
// input from a missing tool or a failing backend.
func exitCode(err error) int {
	var typed *errs.Error
	if !errors.As(err, &typed) {
		return 1
	}
	switch typed.Kind {
	case errs.KindInput:
		return 2
	case errs.KindTool:
		return 3
	case errs.KindConfig:
		return 4
	case errs.KindModel:
		return 5
	}
	return 1
}
