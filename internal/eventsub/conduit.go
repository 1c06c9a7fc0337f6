package eventsub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/twitch"
	"github.com/streamforge/streamforge/pkg/eventsub"
)

var (
	ErrShardsNotCreated = errors.New("shards not created for conduit")
	ErrNoEnabledShards  = errors.New("no enabled shards in conduit")
)

// ConduitAPI is the slice of the platform client the orchestrator needs.
type ConduitAPI interface {
	CreateConduit(ctx context.Context, shardCount int) (*twitch.Conduit, error)
	GetShards(ctx context.Context, conduitID string) ([]twitch.Shard, error)
	UpdateShards(ctx context.Context, conduitID string, updates []twitch.ShardUpdate) ([]twitch.Shard, error)
	CreateSubscription(ctx context.Context, input twitch.CreateSubscriptionInput) (*eventsub.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]eventsub.Subscription, error)
}

// SubscriptionSpec is one EventSub subscription the process wants delivered
// through the conduit.
type SubscriptionSpec struct {
	Type      eventsub.SubscriptionType
	Version   string
	Condition map[string]any
}

// Orchestrator drives a conduit and its shards toward the ready state:
// created, enabled, and bound to the current WebSocket session. Shard state
// converges asynchronously on the remote side, so every step is best-effort
// and safe to re-run.
type Orchestrator struct {
	api           ConduitAPI
	logger        *zap.Logger
	shardCount    int
	subscriptions []SubscriptionSpec

	// Poll delays, overridable in tests.
	settleDelay time.Duration
	retryDelay  time.Duration

	mu        sync.Mutex
	conduitID string
}

func NewOrchestrator(api ConduitAPI, conduitID string, shardCount int, subs []SubscriptionSpec, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		api:           api,
		logger:        logger,
		shardCount:    shardCount,
		subscriptions: subs,
		settleDelay:   time.Second,
		retryDelay:    2 * time.Second,
		conduitID:     conduitID,
	}
}

// ConduitID returns the current conduit id, empty until EnsureReady has
// created one.
func (o *Orchestrator) ConduitID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conduitID
}

// HasConduit reports whether a conduit id is known.
func (o *Orchestrator) HasConduit() bool {
	return o.ConduitID() != ""
}

// EnsureReady creates the conduit if none is configured, waits for shard
// materialization, enables every shard, and binds shard transports when a
// session id is already known. Errors abort connection startup; shards that
// have not converged to enabled yet are a warning, not a failure.
func (o *Orchestrator) EnsureReady(ctx context.Context, sessionID string) error {
	o.mu.Lock()
	conduitID := o.conduitID
	o.mu.Unlock()

	if conduitID == "" {
		conduit, err := o.api.CreateConduit(ctx, o.shardCount)
		if err != nil {
			o.logger.Error("failed to create conduit", zap.Error(err))
			return fmt.Errorf("create conduit: %w", err)
		}
		conduitID = conduit.ID
		o.mu.Lock()
		o.conduitID = conduitID
		o.mu.Unlock()
		o.logger.Info("created conduit",
			zap.String("conduit_id", conduitID), zap.Int("shard_count", o.shardCount))
	}

	shards, err := o.awaitShards(ctx, conduitID)
	if err != nil {
		return err
	}

	updates := make([]twitch.ShardUpdate, 0, len(shards))
	for _, shard := range shards {
		if shard.Status == twitch.ShardStatusEnabled {
			continue
		}
		updates = append(updates, twitch.ShardUpdate{ID: shard.ID, Status: twitch.ShardStatusEnabled})
	}
	if len(updates) > 0 {
		if _, err := o.api.UpdateShards(ctx, conduitID, updates); err != nil {
			o.logger.Error("failed to enable shards",
				zap.String("conduit_id", conduitID), zap.Error(err))
			return fmt.Errorf("enable shards: %w", err)
		}
	}

	o.sleep(ctx, o.settleDelay)
	shards, err = o.api.GetShards(ctx, conduitID)
	if err != nil {
		return fmt.Errorf("verify shard status: %w", err)
	}
	var pending []string
	for _, shard := range shards {
		if shard.Status != twitch.ShardStatusEnabled {
			pending = append(pending, shard.ID)
		}
	}
	if len(pending) > 0 {
		// Convergence is asynchronous on the remote side.
		o.logger.Warn("some shards are not enabled yet",
			zap.String("conduit_id", conduitID), zap.Strings("shard_ids", pending))
	} else {
		o.logger.Info("all shards enabled",
			zap.String("conduit_id", conduitID), zap.Int("shards", len(shards)))
	}

	if sessionID != "" {
		if err := o.RebindTransport(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) awaitShards(ctx context.Context, conduitID string) ([]twitch.Shard, error) {
	o.sleep(ctx, o.settleDelay)
	shards, err := o.api.GetShards(ctx, conduitID)
	if err != nil {
		return nil, fmt.Errorf("get shards: %w", err)
	}
	if len(shards) > 0 {
		return shards, nil
	}

	o.logger.Warn("no shards yet, waiting for creation", zap.String("conduit_id", conduitID))
	o.sleep(ctx, o.retryDelay)
	shards, err = o.api.GetShards(ctx, conduitID)
	if err != nil {
		return nil, fmt.Errorf("get shards (retry): %w", err)
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w %s", ErrShardsNotCreated, conduitID)
	}
	return shards, nil
}

// RebindTransport points every shard's transport at the given WebSocket
// session. Safe to call on every session welcome.
func (o *Orchestrator) RebindTransport(ctx context.Context, sessionID string) error {
	conduitID := o.ConduitID()
	if conduitID == "" {
		return nil
	}

	shards, err := o.api.GetShards(ctx, conduitID)
	if err != nil {
		return fmt.Errorf("get shards for rebind: %w", err)
	}

	updates := make([]twitch.ShardUpdate, 0, len(shards))
	for _, shard := range shards {
		updates = append(updates, twitch.ShardUpdate{
			ID: shard.ID,
			Transport: &twitch.ShardTransport{
				Method:    "websocket",
				SessionID: sessionID,
			},
		})
	}
	if _, err := o.api.UpdateShards(ctx, conduitID, updates); err != nil {
		return fmt.Errorf("bind shard transports: %w", err)
	}
	o.logger.Info("bound shard transports to session",
		zap.String("conduit_id", conduitID),
		zap.String("session_id", sessionID),
		zap.Int("shards", len(updates)))
	return nil
}

// EnsureSubscriptions creates the configured subscriptions, distributed
// round-robin across enabled shards. Individual failures are logged and
// skipped so one bad subscription does not take down the rest.
func (o *Orchestrator) EnsureSubscriptions(ctx context.Context) error {
	conduitID := o.ConduitID()
	if conduitID == "" {
		return fmt.Errorf("%w: no conduit", ErrNoEnabledShards)
	}

	shards, err := o.api.GetShards(ctx, conduitID)
	if err != nil {
		return fmt.Errorf("get shards for subscriptions: %w", err)
	}
	var enabled []twitch.Shard
	for _, shard := range shards {
		if shard.Status == twitch.ShardStatusEnabled {
			enabled = append(enabled, shard)
		}
	}
	if len(enabled) == 0 {
		return fmt.Errorf("%w %s", ErrNoEnabledShards, conduitID)
	}

	for i, spec := range o.subscriptions {
		shard := enabled[i%len(enabled)]
		_, err := o.api.CreateSubscription(ctx, twitch.CreateSubscriptionInput{
			Type:      spec.Type,
			Version:   spec.Version,
			Condition: spec.Condition,
			Transport: map[string]any{
				"method":     "conduit",
				"conduit_id": conduitID,
				"shard_id":   shard.ID,
			},
		})
		if err != nil {
			o.logger.Error("failed to create subscription",
				zap.String("type", string(spec.Type)),
				zap.String("shard_id", shard.ID),
				zap.Error(err))
			continue
		}
		o.logger.Info("created subscription",
			zap.String("type", string(spec.Type)), zap.String("shard_id", shard.ID))
	}

	subs, err := o.api.ListSubscriptions(ctx)
	if err != nil {
		o.logger.Error("failed to list subscriptions", zap.Error(err))
		return nil
	}
	byStatus := make(map[string]int)
	for _, sub := range subs {
		byStatus[sub.Status]++
	}
	o.logger.Info("subscription status",
		zap.Int("total", len(subs)), zap.Any("by_status", byStatus))
	return nil
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
