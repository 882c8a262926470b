package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/manthysbr/pharmaflow/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// skipConfig marks commands that run without loading the config.
const skipConfig = "skip-config"

// cli carries the state shared by every subcommand.
type cli struct {
	v      *viper.Viper
	file   string
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:           "pharmaflow",
		Short:         "Pharmaceutical research pipeline orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] != "" {
				return nil
			}
			return c.load()
		},
	}

	root.PersistentFlags().StringVar(&c.file, "config", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	_ = c.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newServeCmd(c),
		newWorkerCmd(c),
		newJobsCmd(c),
		newSecretCmd(),
		newVersionCmd(),
	)
	return root
}

func (c *cli) load() error {
	cfg, err := config.Load(c.v, c.file)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = newLogger(cfg.Log.Level)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print the version",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "pharmaflow", version)
		},
	}
}
