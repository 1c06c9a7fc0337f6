package template

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// GlobalNamespace provides utility variables that need no caller context.
func GlobalNamespace() *Namespace {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	return &Namespace{
		Name: "global",
		Vars: map[string]VarFunc{
			"random_number": func(ctx context.Context, tc *Context) (any, error) {
				return rand.Intn(100) + 1, nil
			},
			"random_string": func(ctx context.Context, tc *Context) (any, error) {
				buf := make([]byte, 8)
				for i := range buf {
					buf[i] = letters[rand.Intn(len(letters))]
				}
				return string(buf), nil
			},
			"random_boolean": func(ctx context.Context, tc *Context) (any, error) {
				return rand.Intn(2) == 1, nil
			},
			"current_time": func(ctx context.Context, tc *Context) (any, error) {
				return time.Now().Format("15:04:05"), nil
			},
			"current_date": func(ctx context.Context, tc *Context) (any, error) {
				return time.Now().Format("2006-01-02"), nil
			},
		},
	}
}

// TwitchNamespace provides variables resolved from the trigger event and the
// platform API. It requires an authenticated client, a channel, and an event.
func TwitchNamespace() *Namespace {
	return &Namespace{
		Name:     "twitch",
		Requires: []Requirement{RequireClient, RequireChannel, RequireEvent},
		Vars: map[string]VarFunc{
			"username": func(ctx context.Context, tc *Context) (any, error) {
				return eventString(tc, "chatter_user_login", "user_login", "user_name", "from_broadcaster_user_name"), nil
			},
			"user_id": func(ctx context.Context, tc *Context) (any, error) {
				return eventString(tc, "chatter_user_id", "user_id", "from_broadcaster_user_id"), nil
			},
			"broadcaster_name": func(ctx context.Context, tc *Context) (any, error) {
				return eventString(tc, "broadcaster_user_name", "to_broadcaster_user_name"), nil
			},
			"broadcaster_id": func(ctx context.Context, tc *Context) (any, error) {
				return tc.ChannelID, nil
			},
			"message": func(ctx context.Context, tc *Context) (any, error) {
				if m, ok := tc.Event["message"].(map[string]any); ok {
					if text, ok := m["text"].(string); ok {
						return text, nil
					}
				}
				return "", nil
			},
			"follower_count": func(ctx context.Context, tc *Context) (any, error) {
				return tc.Client.FollowerCount(ctx, tc.ChannelID)
			},
			"subscriber_count": func(ctx context.Context, tc *Context) (any, error) {
				return tc.Client.SubscriberCount(ctx, tc.ChannelID)
			},
			"is_follower": func(ctx context.Context, tc *Context) (any, error) {
				userID := eventString(tc, "chatter_user_id", "user_id")
				if userID == "" {
					return false, fmt.Errorf("event has no user id")
				}
				return tc.Client.IsFollower(ctx, tc.ChannelID, userID)
			},
		},
	}
}

func eventString(tc *Context, keys ...string) string {
	for _, key := range keys {
		if v, ok := tc.Event[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
