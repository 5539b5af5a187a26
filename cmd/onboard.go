package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/pushbridge/internal/config"
)

var (
	onboardEmbedderOrigin string
	onboardForce          bool
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Write a default configuration",
	RunE:  runOnboard,
}

func init() {
	onboardCmd.Flags().StringVar(&onboardEmbedderOrigin, "embedder-origin", "", "Origin of the embedding page, allowed by the helper")
	onboardCmd.Flags().BoolVarP(&onboardForce, "force", "f", false, "Reset an existing config to defaults")
}

func runOnboard(_ *cobra.Command, _ []string) error {
	cfgPath := resolvedConfigPath()

	cfg := config.DefaultConfig()
	verb := "Created"
	if _, err := os.Stat(cfgPath); err == nil && !onboardForce {
		existing, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = *existing
		verb = "Refreshed"
	}

	// The helper only accepts the page that embeds it, so both sides of the
	// handshake move together.
	if onboardEmbedderOrigin != "" {
		cfg.Helper.AllowedOrigin = onboardEmbedderOrigin
		cfg.Embedder.Origin = onboardEmbedderOrigin
	}

	if err := config.Save(&cfg, cfgPath); err != nil {
		return err
	}
	fmt.Printf("✓ %s config at %s\n", verb, cfgPath)
	fmt.Printf("  helper   ws://%s%s accepting %s\n", cfg.Helper.ListenAddr, cfg.Helper.Endpoint(), cfg.Helper.AllowedOrigin)
	fmt.Printf("  worker   %s\n", cfg.Worker.ScriptURL)

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Start the helper:  pushbridge helper")
	fmt.Println("  2. Register worker:   pushbridge query register")
	fmt.Println("  3. Check it:          pushbridge query state")
	return nil
}
