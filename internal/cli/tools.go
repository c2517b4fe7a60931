package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hollis/chassis/internal/config"
	"github.com/hollis/chassis/internal/logger"
	"github.com/hollis/chassis/pkg/mcp"
	"github.com/hollis/chassis/pkg/tools"
	"github.com/hollis/chassis/pkg/translator"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the aggregated tool catalog",
	Long: `Connect to every configured protocol server, aggregate their tools
with the local registry, and print the resulting catalog.`,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     "warn",
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	registry := tools.NewRegistry(zl)
	if err := tools.RegisterBuiltins(registry); err != nil {
		return err
	}

	specs, invalid, err := mcp.LoadSpecs(cfg.MCP.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load server config: %w", err)
	}
	for name, specErr := range invalid {
		fmt.Printf("warning: skipping server %q: %v\n", name, specErr)
	}

	callTimeout := time.Duration(cfg.MCP.CallTimeout) * time.Second
	for i := range specs {
		if specs[i].Timeout <= 0 {
			specs[i].Timeout = callTimeout
		}
	}

	manager := mcp.NewManager(specs, zl)
	manager.OpenAll(cmd.Context())
	defer manager.CloseAll()

	trans := translator.New(registry, manager, time.Duration(cfg.Agent.ToolTimeout)*time.Second, zl)

	descriptors := trans.Aggregate(nil)
	if len(descriptors) == 0 {
		fmt.Println("no tools available")
		return nil
	}

	for _, d := range descriptors {
		origin := string(d.Origin)
		if d.Server != "" {
			origin = fmt.Sprintf("%s (%s)", origin, d.Server)
		}
		fmt.Printf("%-30s %-20s %s\n", d.Name, origin, d.Description)
	}

	return nil
}
