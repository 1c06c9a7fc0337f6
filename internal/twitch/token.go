package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/streamforge/streamforge/internal/store"
)

var (
	ErrNoIntegration = errors.New("no integration for channel")
	ErrTokenRefresh  = errors.New("token refresh failed")
)

// appTokenKey is the single-flight and cache key for the shared app token.
const appTokenKey = "app"

type cachedToken struct {
	token     string
	expiresAt time.Time
}

func (c cachedToken) valid(now time.Time) bool {
	return c.token != "" && now.Before(c.expiresAt)
}

// TokenManager caches and refreshes the two credential domains: per-channel
// user tokens and the shared app token. Refreshes are single-flighted per key
// so concurrent callers join one in-flight refresh instead of issuing
// duplicates.
type TokenManager struct {
	store        store.Store
	httpClient   *http.Client
	authURL      string
	clientID     string
	clientSecret string
	logger       *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedToken

	flight singleflight.Group
}

func NewTokenManager(st store.Store, authURL, clientID, clientSecret string, logger *zap.Logger) *TokenManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenManager{
		store:        st,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		authURL:      authURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
		cache:        make(map[string]cachedToken),
	}
}

func (m *TokenManager) cached(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[key]
	if !ok || !entry.valid(time.Now()) {
		return "", false
	}
	return entry.token, true
}

func (m *TokenManager) put(key, token string, expiresAt time.Time) {
	m.mu.Lock()
	m.cache[key] = cachedToken{token: token, expiresAt: expiresAt}
	m.mu.Unlock()
}

// Invalidate drops the cached token for the given channel id, or for the app
// token when key is empty.
func (m *TokenManager) Invalidate(key string) {
	if key == "" {
		key = appTokenKey
	}
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()
}

// ChannelToken returns a bearer token for the channel, from cache when
// unexpired, otherwise from the store, refreshing through the stored refresh
// token when the stored one has expired.
func (m *TokenManager) ChannelToken(ctx context.Context, channelID string) (string, error) {
	if token, ok := m.cached(channelID); ok {
		return token, nil
	}

	integ, err := m.store.ChannelIntegration(ctx, channelID)
	if err != nil {
		return "", fmt.Errorf("%w %s: %v", ErrNoIntegration, channelID, err)
	}
	if time.Now().Before(integ.ExpiresAt) {
		m.put(channelID, integ.AccessToken, integ.ExpiresAt)
		return integ.AccessToken, nil
	}
	return m.refreshChannel(ctx, channelID)
}

// RefreshChannelToken always performs a fresh refresh, regardless of cache
// state. Used after an unauthorized response.
func (m *TokenManager) RefreshChannelToken(ctx context.Context, channelID string) (string, error) {
	m.Invalidate(channelID)
	return m.refreshChannel(ctx, channelID)
}

// refreshChannel is the only path that exchanges a refresh token. Every
// caller shares one flight per channel id; with token rotation a duplicate
// grant would burn the rotated refresh token and kill the integration.
func (m *TokenManager) refreshChannel(ctx context.Context, channelID string) (string, error) {
	v, err, _ := m.flight.Do(channelID, func() (any, error) {
		integ, err := m.store.ChannelIntegration(ctx, channelID)
		if err != nil {
			return "", fmt.Errorf("%w %s: %v", ErrNoIntegration, channelID, err)
		}
		return m.grantChannelToken(ctx, integ)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) grantChannelToken(ctx context.Context, integ *store.ChannelIntegration) (string, error) {
	grant, err := m.requestGrant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {integ.RefreshToken},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	})
	if err != nil {
		return "", fmt.Errorf("%w for channel %s: %v", ErrTokenRefresh, integ.ChannelID, err)
	}

	integ.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		integ.RefreshToken = grant.RefreshToken
	}
	integ.ExpiresAt = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if err := m.store.UpdateChannelIntegration(ctx, integ); err != nil {
		m.logger.Error("failed to persist refreshed channel token",
			zap.String("channel_id", integ.ChannelID), zap.Error(err))
	}

	m.put(integ.ChannelID, integ.AccessToken, integ.ExpiresAt)
	return integ.AccessToken, nil
}

// AppToken returns the shared client-credentials token, preferring the cache,
// then the persisted singleton, and finally a fresh grant.
func (m *TokenManager) AppToken(ctx context.Context) (string, error) {
	if token, ok := m.cached(appTokenKey); ok {
		return token, nil
	}

	stored, err := m.store.AppToken(ctx)
	if err == nil && time.Now().Before(stored.ExpiresAt) {
		m.put(appTokenKey, stored.AccessToken, stored.ExpiresAt)
		return stored.AccessToken, nil
	}
	return m.refreshApp(ctx)
}

// RefreshAppToken requests a fresh client-credentials grant unconditionally.
func (m *TokenManager) RefreshAppToken(ctx context.Context) (string, error) {
	m.Invalidate("")
	return m.refreshApp(ctx)
}

// refreshApp shares one flight per grant so concurrent callers join a single
// client-credentials exchange.
func (m *TokenManager) refreshApp(ctx context.Context) (string, error) {
	v, err, _ := m.flight.Do(appTokenKey, func() (any, error) {
		return m.grantAppToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *TokenManager) grantAppToken(ctx context.Context) (string, error) {
	grant, err := m.requestGrant(ctx, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	})
	if err != nil {
		return "", fmt.Errorf("%w for app token: %v", ErrTokenRefresh, err)
	}

	expiresAt := time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	if err := m.store.UpsertAppToken(ctx, &store.AppToken{AccessToken: grant.AccessToken, ExpiresAt: expiresAt}); err != nil {
		m.logger.Error("failed to persist app token", zap.Error(err))
	}

	m.put(appTokenKey, grant.AccessToken, expiresAt)
	return grant.AccessToken, nil
}

type tokenGrant struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
}

func (m *TokenManager) requestGrant(ctx context.Context, form url.Values) (*tokenGrant, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var grant tokenGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return nil, fmt.Errorf("failed to decode token grant: %w", err)
	}
	if grant.AccessToken == "" {
		return nil, errors.New("token endpoint returned empty access token")
	}
	return &grant, nil
}
