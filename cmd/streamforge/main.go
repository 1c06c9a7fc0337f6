package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/actions"
	"github.com/streamforge/streamforge/internal/config"
	"github.com/streamforge/streamforge/internal/dispatch"
	"github.com/streamforge/streamforge/internal/domain"
	esession "github.com/streamforge/streamforge/internal/eventsub"
	"github.com/streamforge/streamforge/internal/gamebridge"
	"github.com/streamforge/streamforge/internal/pipeline"
	"github.com/streamforge/streamforge/internal/store"
	"github.com/streamforge/streamforge/internal/template"
	"github.com/streamforge/streamforge/internal/twitch"
	"github.com/streamforge/streamforge/internal/webhook"
	"github.com/streamforge/streamforge/internal/workflow"
	"github.com/streamforge/streamforge/pkg/eventsub"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamforge",
		Short: "Twitch EventSub chat bot and stream automation",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: EventSub session, webhook ingress, and game bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(viper.New())
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens := twitch.NewTokenManager(st, cfg.AuthURL, cfg.ClientID, cfg.ClientSecret, logger)
	client := twitch.NewClient(cfg.HelixURL, cfg.ClientID, cfg.BotUserID, tokens, logger)

	engine := template.NewEngine(logger)
	engine.RegisterNamespace(template.GlobalNamespace())
	engine.RegisterNamespace(template.TwitchNamespace())

	hub := gamebridge.NewHub(logger)
	registry := workflow.NewRegistry(logger)
	actions.RegisterTwitch(registry, client, logger)
	actions.RegisterGame(registry, hub, logger)

	runner := workflow.NewRunner(registry, engine, client, logger)
	pipe := pipeline.New(st, client, engine, registry, logger)

	dispatcher := dispatch.NewRegistry(st, runner, logger)
	dispatcher.Register(eventsub.SubChannelChatMessage,
		dispatch.Typed(func(ctx context.Context, event domain.ChatMessageEvent) error {
			return pipe.HandleChatMessage(ctx, event)
		}))

	orchestrator := esession.NewOrchestrator(client, cfg.ConduitID, cfg.ShardCount, subscriptionSpecs(cfg), logger)
	manager := esession.NewManager(esession.ManagerConfig{
		URL:      cfg.EventSubURL,
		Notifier: dispatcher,
		Binder:   orchestrator,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	webhookSrv := &http.Server{
		Addr:    cfg.WebhookAddr,
		Handler: webhook.NewServer(cfg.WebhookSecret, dispatcher, logger).Routes(),
	}
	bridgeSrv := &http.Server{
		Addr:    cfg.BridgeAddr,
		Handler: gamebridge.NewServer(hub, logger).Routes(),
	}
	go func() {
		logger.Info("webhook ingress listening", zap.String("addr", cfg.WebhookAddr))
		if err := webhookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("webhook server: %w", err)
		}
	}()
	go func() {
		logger.Info("game bridge listening", zap.String("addr", cfg.BridgeAddr))
		if err := bridgeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("bridge server: %w", err)
		}
	}()

	if err := orchestrator.EnsureReady(ctx, ""); err != nil {
		return fmt.Errorf("prepare conduit: %w", err)
	}
	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("connect eventsub: %w", err)
	}
	if err := orchestrator.EnsureSubscriptions(ctx); err != nil {
		return fmt.Errorf("create subscriptions: %w", err)
	}
	logger.Info("streamforge running",
		zap.String("broadcaster_id", cfg.BroadcasterID),
		zap.String("conduit_id", orchestrator.ConduitID()))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server failed", zap.Error(err))
	}

	manager.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = webhookSrv.Shutdown(shutdownCtx)
	_ = bridgeSrv.Shutdown(shutdownCtx)
	return nil
}

// subscriptionSpecs lists every EventSub subscription the bot needs for the
// configured broadcaster.
func subscriptionSpecs(cfg *config.Config) []esession.SubscriptionSpec {
	broadcaster := map[string]any{"broadcaster_user_id": cfg.BroadcasterID}
	return []esession.SubscriptionSpec{
		{
			Type:    eventsub.SubChannelChatMessage,
			Version: "1",
			Condition: map[string]any{
				"broadcaster_user_id": cfg.BroadcasterID,
				"user_id":             cfg.BotUserID,
			},
		},
		{
			Type:    eventsub.SubChannelFollow,
			Version: "2",
			Condition: map[string]any{
				"broadcaster_user_id": cfg.BroadcasterID,
				"moderator_user_id":   cfg.BotUserID,
			},
		},
		{Type: eventsub.SubChannelSubscribe, Version: "1", Condition: broadcaster},
		{Type: eventsub.SubChannelSubGift, Version: "1", Condition: broadcaster},
		{
			Type:      eventsub.SubChannelRaid,
			Version:   "1",
			Condition: map[string]any{"to_broadcaster_user_id": cfg.BroadcasterID},
		},
		{Type: eventsub.SubChannelPointsRedeemed, Version: "1", Condition: broadcaster},
		{Type: eventsub.SubStreamOnline, Version: "1", Condition: broadcaster},
		{Type: eventsub.SubStreamOffline, Version: "1", Condition: broadcaster},
	}
}
