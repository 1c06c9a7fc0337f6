package twitch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// listResponse is the standard Helix envelope: a data array plus optional
// total and pagination.
type listResponse[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total,omitempty"`
	Pagination struct {
		Cursor string `json:"cursor,omitempty"`
	} `json:"pagination"`
}

type SentMessage struct {
	MessageID  string `json:"message_id"`
	IsSent     bool   `json:"is_sent"`
	DropReason *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"drop_reason,omitempty"`
}

// SendChatMessage posts a chat message to the broadcaster's channel as the
// configured bot user, optionally as an in-thread reply.
func (c *Client) SendChatMessage(ctx context.Context, broadcasterID, message, replyParentMessageID string) (*SentMessage, error) {
	body := map[string]any{
		"broadcaster_id": broadcasterID,
		"sender_id":      c.botUserID,
		"message":        message,
	}
	if replyParentMessageID != "" {
		body["reply_parent_message_id"] = replyParentMessageID
	}

	var resp listResponse[SentMessage]
	if err := c.do(ctx, http.MethodPost, "/chat/messages", nil, body, &resp, channelAuth(broadcasterID)); err != nil {
		return nil, fmt.Errorf("send chat message: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("send chat message: empty response")
	}
	return &resp.Data[0], nil
}

type Chatter struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

func (c *Client) Chatters(ctx context.Context, broadcasterID string) ([]Chatter, error) {
	q := url.Values{
		"broadcaster_id": {broadcasterID},
		"moderator_id":   {c.botUserID},
	}
	var resp listResponse[Chatter]
	if err := c.do(ctx, http.MethodGet, "/chat/chatters", q, nil, &resp, channelAuth(broadcasterID)); err != nil {
		return nil, fmt.Errorf("get chatters: %w", err)
	}
	return resp.Data, nil
}

type FollowInfo struct {
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	FollowedAt time.Time `json:"followed_at"`
}

// FollowInfo returns follow details for the user, or nil when the user does
// not follow the broadcaster.
func (c *Client) FollowInfo(ctx context.Context, broadcasterID, userID string) (*FollowInfo, error) {
	q := url.Values{
		"broadcaster_id": {broadcasterID},
		"user_id":        {userID},
	}
	var resp listResponse[FollowInfo]
	if err := c.do(ctx, http.MethodGet, "/channels/followers", q, nil, &resp, channelAuth(broadcasterID)); err != nil {
		return nil, fmt.Errorf("get follow info: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	return &resp.Data[0], nil
}

// IsFollower reports whether the user follows the broadcaster.
func (c *Client) IsFollower(ctx context.Context, broadcasterID, userID string) (bool, error) {
	info, err := c.FollowInfo(ctx, broadcasterID, userID)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

func (c *Client) FollowerCount(ctx context.Context, broadcasterID string) (int, error) {
	q := url.Values{
		"broadcaster_id": {broadcasterID},
		"first":          {"1"},
	}
	var resp listResponse[FollowInfo]
	if err := c.do(ctx, http.MethodGet, "/channels/followers", q, nil, &resp, channelAuth(broadcasterID)); err != nil {
		return 0, fmt.Errorf("get follower count: %w", err)
	}
	return resp.Total, nil
}

func (c *Client) SubscriberCount(ctx context.Context, broadcasterID string) (int, error) {
	q := url.Values{
		"broadcaster_id": {broadcasterID},
		"first":          {"1"},
	}
	var resp listResponse[map[string]any]
	if err := c.do(ctx, http.MethodGet, "/subscriptions", q, nil, &resp, channelAuth(broadcasterID)); err != nil {
		return 0, fmt.Errorf("get subscriber count: %w", err)
	}
	return resp.Total, nil
}

// IsSubscriber reports whether the user has an active subscription to the
// broadcaster. The API answers 404 for non-subscribers.
func (c *Client) IsSubscriber(ctx context.Context, broadcasterID, userID string) (bool, error) {
	q := url.Values{
		"broadcaster_id": {broadcasterID},
		"user_id":        {userID},
	}
	var resp listResponse[map[string]any]
	err := c.do(ctx, http.MethodGet, "/subscriptions/user", q, nil, &resp, channelAuth(broadcasterID))
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return len(resp.Data) > 0, nil
}

type Clip struct {
	ID      string `json:"id"`
	EditURL string `json:"edit_url"`
}

func (c *Client) CreateClip(ctx context.Context, broadcasterID string) (*Clip, error) {
	q := url.Values{"broadcaster_id": {broadcasterID}}
	var resp listResponse[Clip]
	if err := c.do(ctx, http.MethodPost, "/clips", q, nil, &resp, channelAuth(broadcasterID)); err != nil {
		return nil, fmt.Errorf("create clip: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create clip: empty response")
	}
	return &resp.Data[0], nil
}

type Marker struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	PositionSec int       `json:"position_seconds"`
}

func (c *Client) CreateMarker(ctx context.Context, broadcasterID, description string) (*Marker, error) {
	body := map[string]any{"user_id": broadcasterID}
	if description != "" {
		body["description"] = description
	}
	var resp listResponse[Marker]
	if err := c.do(ctx, http.MethodPost, "/streams/markers", nil, body, &resp, channelAuth(broadcasterID)); err != nil {
		return nil, fmt.Errorf("create marker: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create marker: empty response")
	}
	return &resp.Data[0], nil
}
