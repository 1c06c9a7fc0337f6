// Package dispatch routes decoded EventSub notifications to direct handlers
// and to stored workflows bound to the event type.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/domain"
	"github.com/streamforge/streamforge/internal/store"
	"github.com/streamforge/streamforge/pkg/eventsub"
)

// HandlerFunc handles one notification payload for a subscription type.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Typed wraps a handler taking a concrete event struct. Payloads that fail to
// decode are an error; they never reach the inner handler.
func Typed[T any](fn func(ctx context.Context, event T) error) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) error {
		var event T
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		return fn(ctx, event)
	}
}

// WorkflowSource is the slice of the store the registry reads.
type WorkflowSource interface {
	WorkflowsByTrigger(ctx context.Context, channelID, eventType string) ([]domain.Workflow, error)
	InsertEventLog(ctx context.Context, entry *store.EventLog) error
}

// Runner executes one workflow against the trigger event that fired it.
type Runner interface {
	Run(ctx context.Context, wf domain.Workflow, trigger map[string]any) error
}

// Registry maps subscription types to handlers and fans events out to stored
// workflows. A missing handler is a logged no-op; handler and workflow errors
// never propagate back to the transport.
type Registry struct {
	source WorkflowSource
	runner Runner
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[eventsub.SubscriptionType]HandlerFunc
}

func NewRegistry(source WorkflowSource, runner Runner, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		source:   source,
		runner:   runner,
		logger:   logger,
		handlers: make(map[eventsub.SubscriptionType]HandlerFunc),
	}
}

// Register installs the direct handler for a subscription type, replacing any
// previous one.
func (r *Registry) Register(subType eventsub.SubscriptionType, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[subType] = fn
}

// channelKeys is the minimal event shape needed to attribute an event to a
// channel. Raid events carry the channel in to_broadcaster_user_id.
type channelKeys struct {
	BroadcasterUserID   string `json:"broadcaster_user_id"`
	ToBroadcasterUserID string `json:"to_broadcaster_user_id"`
}

func channelID(payload json.RawMessage) string {
	var keys channelKeys
	if err := json.Unmarshal(payload, &keys); err != nil {
		return ""
	}
	if keys.BroadcasterUserID != "" {
		return keys.BroadcasterUserID
	}
	return keys.ToBroadcasterUserID
}

// Dispatch processes one notification: event log, direct handler, then
// workflows. It is the sequential consumer behind the WebSocket read loop, so
// it must not panic and must not block forever.
func (r *Registry) Dispatch(ctx context.Context, subType eventsub.SubscriptionType, payload json.RawMessage) {
	channel := channelID(payload)

	// Best-effort audit trail.
	if r.source != nil {
		err := r.source.InsertEventLog(ctx, &store.EventLog{
			ChannelID: channel,
			EventType: string(subType),
			Payload:   string(payload),
		})
		if err != nil {
			r.logger.Warn("failed to log event",
				zap.String("type", string(subType)), zap.Error(err))
		}
	}

	r.mu.RLock()
	handler, ok := r.handlers[subType]
	r.mu.RUnlock()
	if ok {
		if err := handler(ctx, payload); err != nil {
			r.logger.Error("handler failed",
				zap.String("type", string(subType)),
				zap.String("channel_id", channel),
				zap.Error(err))
		}
	} else {
		r.logger.Debug("no handler for event type", zap.String("type", string(subType)))
	}

	r.runWorkflows(ctx, subType, channel, payload)
}

func (r *Registry) runWorkflows(ctx context.Context, subType eventsub.SubscriptionType, channel string, payload json.RawMessage) {
	if r.source == nil || r.runner == nil || channel == "" {
		return
	}

	workflows, err := r.source.WorkflowsByTrigger(ctx, channel, string(subType))
	if err != nil {
		r.logger.Error("failed to load workflows",
			zap.String("type", string(subType)),
			zap.String("channel_id", channel),
			zap.Error(err))
		return
	}
	if len(workflows) == 0 {
		return
	}

	var trigger map[string]any
	if err := json.Unmarshal(payload, &trigger); err != nil {
		r.logger.Error("failed to decode trigger event",
			zap.String("type", string(subType)), zap.Error(err))
		return
	}

	for _, wf := range workflows {
		if err := r.runner.Run(ctx, wf, trigger); err != nil {
			// One broken workflow must not stop the others.
			r.logger.Error("workflow run failed",
				zap.String("workflow_id", wf.ID),
				zap.String("workflow", wf.Name),
				zap.Error(err))
		}
	}
}
