package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/blimp/internal/config"
	"github.com/user/blimp/internal/dispatch"
	"github.com/user/blimp/internal/gateway"
	"github.com/user/blimp/internal/kudos"
	"github.com/user/blimp/internal/status"
	"github.com/user/blimp/pkg/discord"
	"github.com/user/blimp/pkg/ledger"
	"github.com/user/blimp/pkg/ledger/graphql"
)

const metricsNamespace = "blimp"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the gateway and award kudos",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func credentialsFromConfig(cfg *config.Config) gateway.Credentials {
	return gateway.Credentials{
		Token:   cfg.Discord.Token,
		Intents: gateway.Intents(cfg.Discord.Intents),
		Properties: gateway.Properties{
			OS:      cfg.Discord.OS,
			Browser: cfg.Discord.Browser,
			Device:  cfg.Discord.Device,
		},
	}
}

func policyFromConfig(cfg *config.Config) *gateway.ReconnectPolicy {
	return &gateway.ReconnectPolicy{
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		InitialDelay: time.Duration(cfg.Reconnect.InitialDelayMs) * time.Millisecond,
		Multiplier:   cfg.Reconnect.Multiplier,
		MaxDelay:     time.Duration(cfg.Reconnect.MaxDelayMs) * time.Millisecond,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Collaborators
	sender := discord.New(cfg.Discord.APIBaseURL, cfg.Discord.Token, cfg.RequestTimeout(), slog.Default())
	var processor dispatch.Processor
	if cfg.Kudos.Enabled {
		ledgerClient := graphql.New(&ledger.Config{URL: cfg.Ledger.URL, APIKey: cfg.Ledger.APIKey}, cfg.RequestTimeout())
		handler := kudos.NewHandler(ledgerClient, sender, cfg.Kudos.Keywords, cfg.Kudos.Emoji, slog.Default())
		processor = handler.ProcessJob
	} else {
		slog.Warn("kudos disabled; messages are received but not acted on")
	}

	queue := dispatch.NewQueue(int64(cfg.MaxConcurrent), processor, slog.Default()).
		WithMetrics(registry, metricsNamespace)
	queue.Start(context.WithoutCancel(ctx))
	defer queue.Stop()

	manager := gateway.NewManager(
		credentialsFromConfig(cfg),
		gateway.NewRouter(queue, slog.Default()),
		gateway.WithURL(cfg.Discord.GatewayURL),
		gateway.WithDialer(gateway.NewWebsocketDialer(cfg.ConnectTimeout())),
		gateway.WithPolicy(policyFromConfig(cfg)),
		gateway.WithLogger(slog.Default()),
		gateway.WithMetrics(gateway.NewMetrics(registry, metricsNamespace)),
	)

	slog.Info("blimp started",
		"version", version,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"kudos", cfg.Kudos.Enabled,
		"status_http", cfg.HTTP.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := manager.Run(gctx)
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		// Run only returns nil once gctx is done
		return nil
	})

	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           status.NewServer(manager, registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("status server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		})
	}

	// SIGHUP drops the socket; the manager resumes the session
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				slog.Info("received SIGHUP, reconnecting")
				manager.Reconnect()
			}
		}
	})

	err := g.Wait()
	if !queue.WaitIdle(10 * time.Second) {
		slog.Warn("shutting down with jobs still running", "active", queue.Active())
	}
	slog.Info("shutting down")
	return err
}
