// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var ErrMissingSetting = errors.New("missing required setting")

// Config is the validated runtime configuration for the streamforge process.
type Config struct {
	ClientID      string
	ClientSecret  string
	BroadcasterID string
	BotUserID     string

	// ConduitID reuses an existing conduit across restarts. Empty means a new
	// conduit is created on startup.
	ConduitID  string
	ShardCount int

	EventSubURL string
	HelixURL    string
	AuthURL     string

	WebhookSecret string
	WebhookAddr   string
	BridgeAddr    string

	DatabasePath string
}

// Load reads configuration from the environment through the given viper
// instance. Pass viper.New() in production; tests inject pre-set instances.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("streamforge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("shard_count", 3)
	v.SetDefault("eventsub_url", "wss://eventsub.wss.twitch.tv/ws")
	v.SetDefault("helix_url", "https://api.twitch.tv/helix")
	v.SetDefault("auth_url", "https://id.twitch.tv/oauth2/token")
	v.SetDefault("webhook_addr", ":8090")
	v.SetDefault("bridge_addr", ":8091")
	v.SetDefault("database_path", "streamforge.db")

	cfg := &Config{
		ClientID:      v.GetString("client_id"),
		ClientSecret:  v.GetString("client_secret"),
		BroadcasterID: v.GetString("broadcaster_id"),
		BotUserID:     v.GetString("bot_user_id"),
		ConduitID:     v.GetString("conduit_id"),
		ShardCount:    v.GetInt("shard_count"),
		EventSubURL:   v.GetString("eventsub_url"),
		HelixURL:      v.GetString("helix_url"),
		AuthURL:       v.GetString("auth_url"),
		WebhookSecret: v.GetString("webhook_secret"),
		WebhookAddr:   v.GetString("webhook_addr"),
		BridgeAddr:    v.GetString("bridge_addr"),
		DatabasePath:  v.GetString("database_path"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"STREAMFORGE_CLIENT_ID":      c.ClientID,
		"STREAMFORGE_CLIENT_SECRET":  c.ClientSecret,
		"STREAMFORGE_BROADCASTER_ID": c.BroadcasterID,
		"STREAMFORGE_BOT_USER_ID":    c.BotUserID,
	}
	for name, val := range required {
		if val == "" {
			return fmt.Errorf("%w: %s", ErrMissingSetting, name)
		}
	}
	if c.ShardCount < 1 {
		return fmt.Errorf("shard count must be at least 1, got %d", c.ShardCount)
	}
	return nil
}
