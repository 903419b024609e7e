package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nearby-tasks/internal/config"
	"nearby-tasks/internal/logger"
	"nearby-tasks/internal/service"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "nearbytasks",
	Short: "Reminds you of tasks when you get close to where they need doing",
	Long: `nearbytasks keeps tasks pinned to places and sends a Telegram message
when the device position comes within the trigger radius of a pending task.`,
	SilenceUsage: true,
}

// Execute runs the command tree.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// runtime is what every subcommand starts from.
type runtime struct {
	cfg *config.Config
	log *zap.Logger
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logger.Level = "debug"
	}
	log, err := logger.New(logger.Config{Level: cfg.Logger.Level, Encoding: cfg.Logger.Encoding})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return &runtime{cfg: cfg, log: log.With(zap.String("app", cfg.AppName))}, nil
}

func (r *runtime) close() {
	_ = r.log.Sync()
}

func (r *runtime) sessionConfig() service.SessionConfig {
	p := r.cfg.Proximity
	return service.SessionConfig{
		RadiusMeters:       p.RadiusMeters,
		ForegroundInterval: p.ForegroundInterval,
		BackgroundInterval: p.BackgroundInterval,
		TickTimeout:        p.TickTimeout,
		RenotifyAfter:      p.RenotifyAfter,
	}
}

// metricsNamespace turns the app name into a valid Prometheus namespace.
func metricsNamespace(appName string) string {
	ns := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, appName)
	if ns == "" || (ns[0] >= '0' && ns[0] <= '9') {
		ns = "app_" + ns
	}
	return ns
}
