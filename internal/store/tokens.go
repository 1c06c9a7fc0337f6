package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *SQLiteStore) ChannelIntegration(ctx context.Context, channelID string) (*ChannelIntegration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, updated_at
		 FROM channel_integrations WHERE channel_id = ?`, channelID)

	integ := &ChannelIntegration{ChannelID: channelID}
	var expiresAt, updatedAt int64
	err := row.Scan(&integ.AccessToken, &integ.RefreshToken, &expiresAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: integration for channel %s", ErrNotFound, channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read channel integration: %w", err)
	}
	integ.ExpiresAt = time.UnixMilli(expiresAt)
	integ.UpdatedAt = time.UnixMilli(updatedAt)
	return integ, nil
}

func (s *SQLiteStore) UpdateChannelIntegration(ctx context.Context, integ *ChannelIntegration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_integrations (channel_id, access_token, refresh_token, expires_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (channel_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		integ.ChannelID, integ.AccessToken, integ.RefreshToken,
		integ.ExpiresAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to update channel integration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppToken(ctx context.Context) (*AppToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, expires_at FROM app_token WHERE id = 1`)

	tok := &AppToken{}
	var expiresAt int64
	err := row.Scan(&tok.AccessToken, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: app token", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read app token: %w", err)
	}
	tok.ExpiresAt = time.UnixMilli(expiresAt)
	return tok, nil
}

func (s *SQLiteStore) UpsertAppToken(ctx context.Context, token *AppToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO app_token (id, access_token, expires_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			access_token = excluded.access_token,
			expires_at = excluded.expires_at`,
		token.AccessToken, token.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert app token: %w", err)
	}
	return nil
}
