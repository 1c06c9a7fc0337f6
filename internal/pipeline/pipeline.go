// Package pipeline turns inbound chat messages into command executions:
// lookup, permission check, cooldown check, templated reply, action dispatch.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/domain"
	"github.com/streamforge/streamforge/internal/store"
	"github.com/streamforge/streamforge/internal/template"
	"github.com/streamforge/streamforge/internal/twitch"
	"github.com/streamforge/streamforge/internal/workflow"
)

const commandPrefix = "!"

// PlatformClient is the slice of the platform API the pipeline needs.
type PlatformClient interface {
	template.PlatformAPI
	SendChatMessage(ctx context.Context, broadcasterID, message, replyParentMessageID string) (*twitch.SentMessage, error)
}

// CommandStore is the slice of the store the pipeline reads and writes.
type CommandStore interface {
	CommandByTrigger(ctx context.Context, channelID, trigger string) (*domain.Command, error)
	ActiveCooldowns(ctx context.Context, commandID string) ([]domain.ActiveCooldown, error)
	ActivateCooldown(ctx context.Context, commandID string, scope domain.CooldownScope, subjectID string, expiresAt time.Time) error
	InsertUsageLog(ctx context.Context, entry *store.UsageLog) error
}

type Pipeline struct {
	store    CommandStore
	client   PlatformClient
	engine   *template.Engine
	registry *workflow.Registry
	logger   *zap.Logger

	now func() time.Time
}

func New(st CommandStore, client PlatformClient, engine *template.Engine, registry *workflow.Registry, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:    st,
		client:   client,
		engine:   engine,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleChatMessage processes one chat message. Messages that are not
// command invocations, or that name no stored command, are a no-op.
// Permission and cooldown denials are expected outcomes: they produce one
// explanatory reply and no side effects.
func (p *Pipeline) HandleChatMessage(ctx context.Context, event domain.ChatMessageEvent) error {
	trigger := triggerToken(event.Message.Text)
	if trigger == "" {
		return nil
	}

	cmd, err := p.store.CommandByTrigger(ctx, event.BroadcasterUserID, trigger)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up command %q: %w", trigger, err)
	}

	allowed, reason, err := p.checkPermission(ctx, cmd, &event)
	if err != nil {
		return fmt.Errorf("check permission for %q: %w", trigger, err)
	}
	if !allowed {
		p.reply(ctx, &event, reason)
		return nil
	}

	remaining, err := p.cooldownRemaining(ctx, cmd, event.ChatterUserID)
	if err != nil {
		return fmt.Errorf("check cooldowns for %q: %w", trigger, err)
	}
	if remaining > 0 {
		p.reply(ctx, &event, cooldownReply(remaining))
		return nil
	}
	if err := p.activateCooldowns(ctx, cmd, event.ChatterUserID); err != nil {
		if errors.Is(err, store.ErrOnCooldown) {
			// Lost the activation race to a concurrent invocation.
			p.reply(ctx, &event, "This command is on cooldown.")
			return nil
		}
		return fmt.Errorf("activate cooldowns for %q: %w", trigger, err)
	}

	if cmd.Response != "" {
		tc := &template.Context{
			Client:    p.client,
			ChannelID: event.BroadcasterUserID,
			Event:     eventMap(&event),
			Results:   map[string]any{},
		}
		text, err := p.engine.ResolveString(ctx, cmd.Response, tc)
		if err != nil {
			return fmt.Errorf("resolve response for %q: %w", trigger, err)
		}
		p.reply(ctx, &event, text)
	}

	if cmd.Action != nil && p.registry != nil {
		p.dispatchAction(ctx, cmd, &event)
	}

	if err := p.store.InsertUsageLog(ctx, &store.UsageLog{
		ChannelID: event.BroadcasterUserID,
		CommandID: cmd.ID,
		UserID:    event.ChatterUserID,
	}); err != nil {
		p.logger.Warn("failed to log command usage",
			zap.String("command_id", cmd.ID), zap.Error(err))
	}
	return nil
}

func (p *Pipeline) dispatchAction(ctx context.Context, cmd *domain.Command, event *domain.ChatMessageEvent) {
	trigger := eventMap(event)
	tc := &template.Context{
		Client:    p.client,
		ChannelID: event.BroadcasterUserID,
		Event:     trigger,
		Results:   map[string]any{},
	}
	config, err := p.engine.ResolveConfig(ctx, cmd.Action.Config, tc)
	if err != nil {
		p.logger.Error("failed to resolve action config",
			zap.String("command_id", cmd.ID), zap.Error(err))
		return
	}
	_, err = p.registry.Dispatch(ctx, cmd.Action.Module, cmd.Action.Action, workflow.Invocation{
		ChannelID: event.BroadcasterUserID,
		Config:    config,
		Trigger:   trigger,
		Results:   map[string]any{},
	})
	if err != nil {
		p.logger.Error("command action failed",
			zap.String("command_id", cmd.ID),
			zap.String("module", cmd.Action.Module),
			zap.String("action", cmd.Action.Action),
			zap.Error(err))
	}
}

// reply sends an in-thread chat reply, best-effort.
func (p *Pipeline) reply(ctx context.Context, event *domain.ChatMessageEvent, text string) {
	if text == "" {
		return
	}
	if _, err := p.client.SendChatMessage(ctx, event.BroadcasterUserID, text, event.MessageID); err != nil {
		p.logger.Error("failed to send reply",
			zap.String("channel_id", event.BroadcasterUserID), zap.Error(err))
	}
}

// triggerToken extracts the command trigger from a message, or "" when the
// message is not a command invocation.
func triggerToken(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, commandPrefix) {
		return ""
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], commandPrefix))
}

// eventMap converts the typed event into the loose map shape templates and
// workflow handlers consume.
func eventMap(event *domain.ChatMessageEvent) map[string]any {
	buf, err := json.Marshal(event)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(buf, &out); err != nil {
		return map[string]any{}
	}
	return out
}
