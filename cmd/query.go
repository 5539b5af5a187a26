package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/pushbridge/internal/bus"
	"github.com/crystaldolphin/pushbridge/internal/config"
	"github.com/crystaldolphin/pushbridge/internal/cron"
	"github.com/crystaldolphin/pushbridge/internal/helper"
	"github.com/crystaldolphin/pushbridge/internal/transport"
	"github.com/crystaldolphin/pushbridge/internal/window"
)

var (
	queryHelperURL string
	queryOrigin    string
	queryTimeout   time.Duration
	queryWatch     string
	queryRetries   uint64
)

var queryCmd = &cobra.Command{
	Use:   "query <permission|state|register|subscription-state|subscribe|unsubscribe|worker TOPIC [JSON]|raw TOPIC [JSON]>",
	Short: "Connect to a running helper as an embedder and send one query",
	Args:  cobra.RangeArgs(1, 3),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryHelperURL, "helper-url", "", "Helper websocket URL (overrides embedder.helperUrl)")
	queryCmd.Flags().StringVar(&queryOrigin, "origin", "", "Embedder origin to present (overrides embedder.origin)")
	queryCmd.Flags().DurationVarP(&queryTimeout, "timeout", "t", 10*time.Second, "Timeout for connecting and for each query")
	queryCmd.Flags().Uint64Var(&queryRetries, "retries", 3, "Extra dial attempts while the helper is starting")
	queryCmd.Flags().StringVarP(&queryWatch, "watch", "w", "", "Repeat the query on a cron schedule, e.g. \"@every 30s\"")
}

func runQuery(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if queryHelperURL != "" {
		cfg.Embedder.HelperURL = queryHelperURL
		cfg.Helper.Origin = ""
	}
	if queryOrigin != "" {
		cfg.Embedder.Origin = queryOrigin
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, closeFn, err := connectHelper(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	run := func(ctx context.Context) error {
		qctx, cancel := context.WithTimeout(ctx, queryTimeout)
		defer cancel()
		out, err := doQuery(qctx, client, cfg, args)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	if err := run(ctx); err != nil || queryWatch == "" {
		return err
	}

	svc := cron.NewService()
	if err := svc.Add("query", queryWatch, run); err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// connectHelper dials the helper socket and completes the handshake.
func connectHelper(ctx context.Context, cfg *config.Config) (*helper.Client, func(), error) {
	dialCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	target, err := transport.DialRetry(dialCtx, cfg.Embedder.HelperURL, cfg.Embedder.Origin, queryRetries)
	if err != nil {
		return nil, nil, err
	}
	m := window.New(nil, "embedder")
	if err := m.Connect(dialCtx, target, cfg.HelperOrigin()); err != nil {
		m.Close()
		target.Close()
		return nil, nil, fmt.Errorf("connect to helper %s: %w", cfg.Embedder.HelperURL, err)
	}
	closeFn := func() {
		m.Close()
		target.Close()
	}
	return helper.NewClient(m), closeFn, nil
}

func doQuery(ctx context.Context, client *helper.Client, cfg *config.Config, args []string) (string, error) {
	switch args[0] {
	case "permission":
		return client.NotificationPermission(ctx)
	case "state":
		st, err := client.ServiceWorkerState(ctx)
		if err != nil {
			return "", err
		}
		return toJSON(st)
	case "register":
		opts := bus.RegistrationOptions{Scope: cfg.Embedder.WorkerScope}
		if err := client.RegisterServiceWorker(ctx, cfg.Embedder.WorkerURL, opts); err != nil {
			return "", err
		}
		return "registered " + cfg.Embedder.WorkerURL, nil
	case "subscription-state":
		subscribed, err := client.SubscriptionState(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprint(subscribed), nil
	case "subscribe":
		return "subscribed", client.Subscribe(ctx)
	case "unsubscribe":
		return "unsubscribed", client.Unsubscribe(ctx)
	case "worker", "raw":
		if len(args) < 2 {
			return "", fmt.Errorf("%s needs a topic", args[0])
		}
		var payload json.RawMessage
		if len(args) == 3 {
			if !json.Valid([]byte(args[2])) {
				return "", fmt.Errorf("payload is not valid JSON: %s", args[2])
			}
			payload = json.RawMessage(args[2])
		}
		var (
			raw json.RawMessage
			err error
		)
		if args[0] == "worker" {
			raw, err = client.QueryServiceWorker(ctx, bus.Topic(args[1]), payload)
		} else {
			raw, err = client.QueryHelper(ctx, bus.Topic(args[1]), payload)
		}
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	return "", fmt.Errorf("unknown query %q", args[0])
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}
	return string(data), nil
}
