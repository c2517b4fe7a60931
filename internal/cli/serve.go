package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hollis/chassis/internal/config"
	"github.com/hollis/chassis/internal/daemon"
	"github.com/hollis/chassis/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chassis service",
	Long: `Run the chassis service in the foreground. Protocol server
connections are opened at startup and the HTTP gateway serves runs until
the process receives SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	return d.Run(cmd.Context())
}

func buildLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
}
