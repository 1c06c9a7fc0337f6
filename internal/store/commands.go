package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streamforge/streamforge/internal/domain"
)

func (s *SQLiteStore) CommandByTrigger(ctx context.Context, channelID, trigger string) (*domain.Command, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, response, action_module, action_name, action_config
		 FROM commands WHERE channel_id = ? AND trigger = ?`, channelID, trigger)

	cmd := &domain.Command{ChannelID: channelID, Trigger: trigger}
	var actionModule, actionName, actionConfig string
	err := row.Scan(&cmd.ID, &cmd.Response, &actionModule, &actionName, &actionConfig)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: command %s on channel %s", ErrNotFound, trigger, channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read command: %w", err)
	}

	if actionModule != "" {
		var cfg map[string]any
		if err := json.Unmarshal([]byte(actionConfig), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode action config for %s: %w", cmd.ID, err)
		}
		cmd.Action = &domain.ActionRef{Module: actionModule, Action: actionName, Config: cfg}
	}

	if cmd.Roles, err = s.commandRoles(ctx, cmd.ID); err != nil {
		return nil, err
	}
	if cmd.Cooldowns, err = s.commandCooldowns(ctx, cmd.ID); err != nil {
		return nil, err
	}
	return cmd, nil
}

func (s *SQLiteStore) commandRoles(ctx context.Context, commandID string) ([]domain.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM command_permissions WHERE command_id = ?`, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to read command permissions: %w", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan permission row: %w", err)
		}
		roles = append(roles, domain.Role(r))
	}
	return roles, rows.Err()
}

func (s *SQLiteStore) commandCooldowns(ctx context.Context, commandID string) ([]domain.CooldownRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, duration_seconds FROM command_cooldowns WHERE command_id = ?`, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to read command cooldowns: %w", err)
	}
	defer rows.Close()

	var rules []domain.CooldownRule
	for rows.Next() {
		var rule domain.CooldownRule
		if err := rows.Scan(&rule.Scope, &rule.DurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to scan cooldown row: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *SQLiteStore) ActiveCooldowns(ctx context.Context, commandID string) ([]domain.ActiveCooldown, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scope, subject_id, expires_at
		 FROM active_cooldowns WHERE command_id = ?`, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to read active cooldowns: %w", err)
	}
	defer rows.Close()

	var active []domain.ActiveCooldown
	for rows.Next() {
		cd := domain.ActiveCooldown{CommandID: commandID}
		var expiresAt int64
		if err := rows.Scan(&cd.ID, &cd.Scope, &cd.SubjectID, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan active cooldown row: %w", err)
		}
		cd.ExpiresAt = time.UnixMilli(expiresAt)
		active = append(active, cd)
	}
	return active, rows.Err()
}

// ActivateCooldown is the conditional activation primitive: the UNIQUE
// constraint on (command_id, scope, subject_id) makes concurrent activations
// race-safe. A row is only replaced when its cooldown has already expired.
func (s *SQLiteStore) ActivateCooldown(ctx context.Context, commandID string, scope domain.CooldownScope, subjectID string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO active_cooldowns (command_id, scope, subject_id, expires_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (command_id, scope, subject_id) DO UPDATE SET
			expires_at = excluded.expires_at
		 WHERE active_cooldowns.expires_at <= ?`,
		commandID, scope, subjectID, expiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to activate cooldown: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check cooldown activation: %w", err)
	}
	if n == 0 {
		return ErrOnCooldown
	}
	return nil
}

func (s *SQLiteStore) InsertUsageLog(ctx context.Context, entry *UsageLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_log (channel_id, command_id, user_id, created_at) VALUES (?, ?, ?, ?)`,
		entry.ChannelID, entry.CommandID, entry.UserID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert usage log: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertEventLog(ctx context.Context, entry *EventLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO event_log (channel_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		entry.ChannelID, entry.EventType, entry.Payload, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert event log: %w", err)
	}
	return nil
}
