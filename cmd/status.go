package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/pushbridge/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pushbridge configuration",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	fmt.Print("pushbridge status\n\n")

	_, statErr := os.Stat(cfgPath)
	cfgMark := "✗"
	if statErr == nil {
		cfgMark = "✓"
	}
	fmt.Printf("Config:    %s %s\n", cfgPath, cfgMark)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  (could not load config: %v)\n", err)
		return nil
	}

	fmt.Println("\nHelper:")
	fmt.Printf("  %-22s ws://%s%s\n", "Listen", cfg.Helper.ListenAddr, cfg.Helper.Endpoint())
	fmt.Printf("  %-22s %s\n", "Origin", cfg.HelperOrigin())
	fmt.Printf("  %-22s %s\n", "Allowed origin", orUnset(cfg.Helper.AllowedOrigin))
	fmt.Printf("  %-22s %v\n", "Legacy registration", cfg.Helper.LegacyRegistrationReplies)
	fmt.Printf("  %-22s %s\n", "Metrics path", orUnset(cfg.Helper.MetricsPath))

	fmt.Println("\nEmbedder:")
	fmt.Printf("  %-22s %s\n", "Helper URL", orUnset(cfg.Embedder.HelperURL))
	fmt.Printf("  %-22s %s\n", "Dialog URL", orUnset(cfg.Embedder.DialogURL))
	fmt.Printf("  %-22s %s\n", "Origin", orUnset(cfg.Embedder.Origin))
	fmt.Printf("  %-22s %s (scope %s)\n", "Worker URL", orUnset(cfg.Embedder.WorkerURL), cfg.Embedder.WorkerScope)

	fmt.Println("\nWorker:")
	fmt.Printf("  %-22s %s\n", "Script URL", orUnset(cfg.Worker.ScriptURL))
	fmt.Printf("  %-22s %s\n", "Permission", cfg.Worker.Permission)
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
