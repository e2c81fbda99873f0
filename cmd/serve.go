package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/bus"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/config"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/dedup"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/history"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/lark"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/pipeline"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/providers"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	client := lark.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret, cfg.Feishu.Domain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Group chats need the bot's own open_id to gate on mentions. The probe
	// failing is survivable: direct chats still work.
	probeCtx, probeCancel := context.WithTimeout(ctx, 10*time.Second)
	botOpenID, err := client.GetBotInfo(probeCtx)
	probeCancel()
	if err != nil {
		slog.Warn("bot info probe failed, group mentions disabled", "error", err)
	} else {
		slog.Info("bot identity resolved", "open_id", botOpenID)
	}

	replier := lark.NewCardReplier(client)
	router := providers.NewRouter(routerGroups(cfg), cfg.AI.SystemPrompt, cfg.AI.MaxTokens)
	pipe := pipeline.New(
		replier,
		router,
		history.NewStore(history.DefaultCapacity),
		dedup.NewGuard(dedup.DefaultTTL, dedup.DefaultMaxEntries),
		botOpenID,
	)

	var dispatcher pipeline.Dispatcher
	switch cfg.Dispatch.Policy {
	case config.PolicySpawn:
		d := pipeline.NewSpawnDispatcher(pipe, cfg.Dispatch.MaxConcurrent)
		d.Start(ctx)
		dispatcher = d
	default:
		d := pipeline.NewQueueDispatcher(pipe, replier, cfg.Dispatch.QueueSize)
		d.Start(ctx)
		dispatcher = d
	}

	limiter := lark.NewSenderLimiter(cfg.Server.RateLimit)
	handler := lark.NewWebhookHandler(cfg.Feishu.VerificationToken, limiter, func(ev bus.InboundEvent) {
		dispatcher.Submit(ev)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.Mux(cfg.Server.WebhookPath),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("webhook server listening",
			"addr", srv.Addr,
			"path", cfg.Server.WebhookPath,
			"policy", cfg.Dispatch.Policy,
			"groups", len(cfg.AI.Groups),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("graceful shutdown initiated", "signal", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}
	cancel()
	slog.Info("shutdown complete")
}

func routerGroups(cfg *config.Config) []providers.Group {
	groups := make([]providers.Group, 0, len(cfg.AI.Groups))
	for _, g := range cfg.AI.Groups {
		groups = append(groups, providers.Group{
			Name:    g.Name,
			APIKey:  g.APIKey,
			BaseURL: g.BaseURL,
			Shape:   g.Shape,
			Models:  g.Models,
		})
	}
	return groups
}
