package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/pedichat-go/internal/app"
	"github.com/pedichat-go/internal/config"
	"github.com/pedichat-go/internal/handlers"
	"github.com/pedichat-go/internal/middleware"
	"github.com/pedichat-go/internal/preference"
	"github.com/pedichat-go/internal/ui"
	"github.com/pedichat-go/pkg/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string

	cfg *config.Config
	log *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pedichat",
	Short: "Terminal client for the pediatric AI assistant",
	Long: `pedichat signs you in to the pediatric assistant backend and lets you
chat, attach images and run prescription analysis from the terminal.

Run without a subcommand to start the interactive interface.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if exists
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
		}

		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log, err = logger.NewLogger(&cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		startMetrics(cmd.Context())
		return nil
	},
	RunE: runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")

	rootCmd.AddCommand(loginCmd, logoutCmd, sessionsCmd, askCmd)
}

func main() {
	ctx, cancel := signalContext()
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		os.Exit(1)
	}
}

// startMetrics serves Prometheus metrics in the background when enabled
func startMetrics(ctx context.Context) {
	if !cfg.Monitoring.Metrics.Enabled {
		return
	}
	go func() {
		log.WithFields(logrus.Fields{
			"port": cfg.Monitoring.Metrics.Port,
			"path": cfg.Monitoring.Metrics.Path,
		}).Info("Starting metrics server")

		if err := middleware.StartMetricsServer(ctx, cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
			log.WithError(err).Error("Metrics server failed")
		}
	}()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := app.New(cfg, log, app.WithDetector(preference.SystemDetector()))
	if err != nil {
		return err
	}
	defer a.Close()

	messages := handlers.NewMessageHandler(a, log)
	commands := handlers.NewCommandHandler(a, messages, log)

	log.WithField("base_url", cfg.API.BaseURL).Info("Starting terminal client")

	program := tea.NewProgram(
		ui.New(ctx, a, commands),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal UI failed: %w", err)
	}

	log.Info("Terminal client stopped")
	return nil
}
