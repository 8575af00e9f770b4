package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Delinquent-Codex/mineflayer/internal/bot"
	"github.com/Delinquent-Codex/mineflayer/internal/config"
	"github.com/Delinquent-Codex/mineflayer/internal/logging"
)

var (
	configPath string
	tagsPath   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sorter",
	Short: "Sort held items into chests marked by item frames",
	Long: `sorter joins a voxelcraft world as an agent, reads the items shown in
item frames next to chests, and periodically deposits its inventory into the
matching chests. Items without a frame of their own follow their tags.

Settings come from environment variables (VC_HOST, VC_PORT, SORT_RADIUS, ...)
layered over an optional YAML file.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.Flags().StringVar(&tagsPath, "tags", "", "tag definitions file (.yaml or .yaml.zst), overrides SORT_TAGS_FILE")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error, overrides LOG_LEVEL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, os.Getenv)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if tagsPath != "" {
		cfg.TagsFile = tagsPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting",
		zap.String("url", cfg.URL()),
		zap.String("username", cfg.Username),
		zap.Int("sort_radius", cfg.SortRadius),
		zap.Duration("sort_interval", cfg.SortInterval),
		zap.Duration("scan_interval", cfg.ScanInterval),
		zap.Int("chest_search_radius", cfg.ChestSearchRadius))

	b, err := bot.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
