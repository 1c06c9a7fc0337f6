// Package twitch is the authenticated Helix API caller used by every
// component that reaches out to the platform. It owns token selection per
// credential domain and the bounded refresh-and-retry on unauthorized
// responses.
package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxAuthRetries bounds 401-triggered replays per logical request.
const maxAuthRetries = 2

// APIError is a non-2xx response from the Helix API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s", e.Status, e.Body)
}

// credential tags a request with the token domain it needs.
type credential struct {
	channelID string // empty means the shared app token
}

func appAuth() credential { return credential{} }

func channelAuth(channelID string) credential { return credential{channelID: channelID} }

// Client is the thin authenticated Helix caller shared by the orchestrator,
// the pipeline, and the action modules.
type Client struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	botUserID  string
	tokens     *TokenManager
	logger     *zap.Logger
}

func NewClient(baseURL, clientID, botUserID string, tokens *TokenManager, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		clientID:   clientID,
		botUserID:  botUserID,
		tokens:     tokens,
		logger:     logger,
	}
}

func (c *Client) token(ctx context.Context, cred credential) (string, error) {
	if cred.channelID == "" {
		return c.tokens.AppToken(ctx)
	}
	return c.tokens.ChannelToken(ctx, cred.channelID)
}

func (c *Client) refresh(ctx context.Context, cred credential) (string, error) {
	c.tokens.Invalidate(cred.channelID)
	if cred.channelID == "" {
		return c.tokens.RefreshAppToken(ctx)
	}
	return c.tokens.RefreshChannelToken(ctx, cred.channelID)
}

// do sends one logical request. On 401 it invalidates the credential, runs a
// synchronous refresh, and replays, at most maxAuthRetries times per call.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any, cred credential) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	token, err := c.token(ctx, cred)
	if err != nil {
		return fmt.Errorf("no bearer token for %s %s: %w", method, path, err)
	}

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Client-Id", c.clientID)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && attempt < maxAuthRetries {
			c.logger.Warn("unauthorized response, refreshing token",
				zap.String("path", path), zap.Int("attempt", attempt+1))
			if token, err = c.refresh(ctx, cred); err != nil {
				return fmt.Errorf("refresh after unauthorized %s %s: %w", method, path, err)
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
			}
		}
		return nil
	}
}

// IsNotFound reports whether err is a 404 API response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
