package actions

import (
	"context"

	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/gamebridge"
	"github.com/streamforge/streamforge/internal/workflow"
)

// Broadcaster pushes effect events to connected game clients.
type Broadcaster interface {
	Broadcast(event gamebridge.Event)
}

// GameEffects is every effect the game module exposes. Each takes whatever
// config the workflow resolved and forwards it to the bridge verbatim.
var GameEffects = []string{
	"launch_player",
	"random_mob_spawn",
	"fake_damage",
	"fireworks",
	"door_scare",
	"supernova",
	"windstorm",
	"subscription_alert",
}

// RegisterGame installs one handler per game effect under the "game" module.
func RegisterGame(reg *workflow.Registry, bridge Broadcaster, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, effect := range GameEffects {
		effect := effect
		reg.Register("game", effect, func(ctx context.Context, inv workflow.Invocation) (any, error) {
			bridge.Broadcast(gamebridge.Event{
				Type:      effect,
				ChannelID: inv.ChannelID,
				Data:      inv.Config,
			})
			logger.Debug("game effect dispatched",
				zap.String("effect", effect), zap.String("channel_id", inv.ChannelID))
			return map[string]any{"effect": effect, "sent": true}, nil
		})
	}
}
