// Package actions registers the built-in side-effect handlers: platform chat
// and stream actions, and game effects pushed through the bridge.
package actions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/twitch"
	"github.com/streamforge/streamforge/internal/workflow"
)

// ChatAPI is the slice of the platform client the twitch actions call.
type ChatAPI interface {
	SendChatMessage(ctx context.Context, broadcasterID, message, replyParentMessageID string) (*twitch.SentMessage, error)
	CreateClip(ctx context.Context, broadcasterID string) (*twitch.Clip, error)
	CreateMarker(ctx context.Context, broadcasterID, description string) (*twitch.Marker, error)
}

// RegisterTwitch installs the platform action handlers under the "twitch"
// module.
func RegisterTwitch(reg *workflow.Registry, api ChatAPI, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg.Register("twitch", "send_chat_message", func(ctx context.Context, inv workflow.Invocation) (any, error) {
		message, _ := inv.Config["message"].(string)
		if message == "" {
			return nil, fmt.Errorf("send_chat_message: missing message")
		}
		replyTo, _ := inv.Config["reply_to"].(string)
		sent, err := api.SendChatMessage(ctx, inv.ChannelID, message, replyTo)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"message_id": sent.MessageID,
			"is_sent":    sent.IsSent,
		}, nil
	})

	reg.Register("twitch", "create_clip", func(ctx context.Context, inv workflow.Invocation) (any, error) {
		clip, err := api.CreateClip(ctx, inv.ChannelID)
		if err != nil {
			return nil, err
		}
		logger.Info("created clip",
			zap.String("channel_id", inv.ChannelID), zap.String("clip_id", clip.ID))
		return map[string]any{
			"id":       clip.ID,
			"edit_url": clip.EditURL,
		}, nil
	})

	reg.Register("twitch", "create_marker", func(ctx context.Context, inv workflow.Invocation) (any, error) {
		description, _ := inv.Config["description"].(string)
		marker, err := api.CreateMarker(ctx, inv.ChannelID, description)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"id":               marker.ID,
			"position_seconds": marker.PositionSec,
		}, nil
	})
}
