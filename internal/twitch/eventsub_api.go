package twitch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/streamforge/streamforge/pkg/eventsub"
)

// EventSub endpoints always use the app credential domain.

type Conduit struct {
	ID         string `json:"id"`
	ShardCount int    `json:"shard_count"`
}

type ShardTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
	Callback  string `json:"callback,omitempty"`
}

type Shard struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Transport ShardTransport `json:"transport"`
}

const (
	ShardStatusEnabled  = "enabled"
	ShardStatusDisabled = "disabled"
)

func (c *Client) CreateConduit(ctx context.Context, shardCount int) (*Conduit, error) {
	body := map[string]any{"shard_count": shardCount}
	var resp listResponse[Conduit]
	if err := c.do(ctx, http.MethodPost, "/eventsub/conduits", nil, body, &resp, appAuth()); err != nil {
		return nil, fmt.Errorf("create conduit: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create conduit: empty response")
	}
	return &resp.Data[0], nil
}

func (c *Client) GetConduits(ctx context.Context) ([]Conduit, error) {
	var resp listResponse[Conduit]
	if err := c.do(ctx, http.MethodGet, "/eventsub/conduits", nil, nil, &resp, appAuth()); err != nil {
		return nil, fmt.Errorf("get conduits: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) GetShards(ctx context.Context, conduitID string) ([]Shard, error) {
	q := url.Values{"conduit_id": {conduitID}}
	var resp listResponse[Shard]
	if err := c.do(ctx, http.MethodGet, "/eventsub/conduits/shards", q, nil, &resp, appAuth()); err != nil {
		return nil, fmt.Errorf("get shards: %w", err)
	}
	return resp.Data, nil
}

// ShardUpdate is one shard mutation inside an UpdateShards call. Zero-valued
// fields are omitted so status and transport can be patched independently.
type ShardUpdate struct {
	ID        string          `json:"id"`
	Status    string          `json:"status,omitempty"`
	Transport *ShardTransport `json:"transport,omitempty"`
}

func (c *Client) UpdateShards(ctx context.Context, conduitID string, updates []ShardUpdate) ([]Shard, error) {
	body := map[string]any{
		"conduit_id": conduitID,
		"shards":     updates,
	}
	var resp listResponse[Shard]
	if err := c.do(ctx, http.MethodPatch, "/eventsub/conduits/shards", nil, body, &resp, appAuth()); err != nil {
		return nil, fmt.Errorf("update shards: %w", err)
	}
	return resp.Data, nil
}

type CreateSubscriptionInput struct {
	Type      eventsub.SubscriptionType `json:"type"`
	Version   string                    `json:"version"`
	Condition map[string]any            `json:"condition"`
	Transport map[string]any            `json:"transport"`
}

func (c *Client) CreateSubscription(ctx context.Context, input CreateSubscriptionInput) (*eventsub.Subscription, error) {
	var resp listResponse[eventsub.Subscription]
	if err := c.do(ctx, http.MethodPost, "/eventsub/subscriptions", nil, input, &resp, appAuth()); err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", input.Type, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create subscription %s: empty response", input.Type)
	}
	return &resp.Data[0], nil
}

func (c *Client) ListSubscriptions(ctx context.Context) ([]eventsub.Subscription, error) {
	var resp listResponse[eventsub.Subscription]
	if err := c.do(ctx, http.MethodGet, "/eventsub/subscriptions", nil, nil, &resp, appAuth()); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	q := url.Values{"id": {id}}
	if err := c.do(ctx, http.MethodDelete, "/eventsub/subscriptions", q, nil, nil, appAuth()); err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	return nil
}
