package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/manthysbr/cropyield/internal/config"
)

type rootOptions struct {
	configFile string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "cropyield-kernel",
		Short:         "Asynchronous crop yield forecast kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
	}
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(opts), newMigrateCmd(opts), newDispatchCmd(opts))
	return root
}

func (o *rootOptions) load() error {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		bootstrap.Error("failed to load env files", "error", err)
		return err
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		bootstrap.Error("invalid configuration", "error", err)
		return err
	}
	if o.logLevel != "" {
		cfg.Log.Level = strings.ToLower(o.logLevel)
		if err := cfg.Validate(); err != nil {
			bootstrap.Error("invalid configuration", "error", err)
			return err
		}
	}

	o.cfg = cfg
	o.logger = newLogger(cfg.Log)
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
}
