package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crystaldolphin/pushbridge/internal/dependency"
	"github.com/crystaldolphin/pushbridge/internal/metrics"
)

var (
	helperListen        string
	helperAllowedOrigin string
	helperLegacy        bool
)

var helperCmd = &cobra.Command{
	Use:   "helper",
	Short: "Run the helper process that embedders connect to",
	RunE:  runHelper,
}

func init() {
	helperCmd.Flags().StringVarP(&helperListen, "listen", "l", "", "Listen address (overrides helper.listenAddr)")
	helperCmd.Flags().StringVar(&helperAllowedOrigin, "allowed-origin", "", "Embedder origin accepted in the handshake")
	helperCmd.Flags().BoolVar(&helperLegacy, "legacy-registration-replies", false, "Report registration failures inside successful replies")
}

func runHelper(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if helperListen != "" {
		cfg.Helper.ListenAddr = helperListen
	}
	if helperAllowedOrigin != "" {
		cfg.Helper.AllowedOrigin = helperAllowedOrigin
	}
	if cmd.Flags().Changed("legacy-registration-replies") {
		cfg.Helper.LegacyRegistrationReplies = helperLegacy
	}

	c, err := dependency.New(cfg)
	if err != nil {
		return fmt.Errorf("build helper: %w", err)
	}
	defer c.Close()

	mux := http.NewServeMux()
	mux.Handle(cfg.Helper.Endpoint(), c.Server())
	if cfg.Helper.MetricsPath != "" {
		mux.Handle(cfg.Helper.MetricsPath, metrics.Handler())
	}
	srv := &http.Server{
		Addr:              cfg.Helper.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", cfg.Helper.ListenAddr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return c.Helper().Run(gctx, c.AllowedOrigin()) })

	fmt.Printf("Helper listening on ws://%s%s (origin %s, accepting %s). Press Ctrl+C to stop.\n",
		cfg.Helper.ListenAddr, cfg.Helper.Endpoint(), cfg.HelperOrigin(), c.AllowedOrigin())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "helper error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
