// Package store persists commands, workflows, tokens, cooldowns, and usage
// logs. The rest of the system only sees the Store interface; the SQLite
// implementation lives alongside it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/streamforge/streamforge/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrOnCooldown = errors.New("already on cooldown")
)

// ChannelIntegration is the per-channel OAuth credential row.
type ChannelIntegration struct {
	ChannelID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// AppToken is the shared client-credentials token singleton.
type AppToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// UsageLog records one executed command invocation.
type UsageLog struct {
	ChannelID string
	CommandID string
	UserID    string
}

// EventLog records one inbound platform event.
type EventLog struct {
	ChannelID string
	EventType string
	Payload   string
}

type Store interface {
	// Tokens.
	ChannelIntegration(ctx context.Context, channelID string) (*ChannelIntegration, error)
	UpdateChannelIntegration(ctx context.Context, integ *ChannelIntegration) error
	AppToken(ctx context.Context) (*AppToken, error)
	UpsertAppToken(ctx context.Context, token *AppToken) error

	// Commands.
	CommandByTrigger(ctx context.Context, channelID, trigger string) (*domain.Command, error)
	ActiveCooldowns(ctx context.Context, commandID string) ([]domain.ActiveCooldown, error)
	// ActivateCooldown inserts or bumps the cooldown row for
	// (command, scope, subject). The insert is conditional: if an unexpired
	// row already exists, it returns ErrOnCooldown and leaves the row alone.
	ActivateCooldown(ctx context.Context, commandID string, scope domain.CooldownScope, subjectID string, expiresAt time.Time) error
	InsertUsageLog(ctx context.Context, entry *UsageLog) error
	InsertEventLog(ctx context.Context, entry *EventLog) error

	// Workflows.
	WorkflowsByTrigger(ctx context.Context, channelID, eventType string) ([]domain.Workflow, error)

	Close() error
}
