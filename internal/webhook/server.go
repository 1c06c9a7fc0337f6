// Package webhook serves the callback-based EventSub ingress: signature
// verification, challenge handshake, and notification forwarding. It is the
// fallback transport next to the WebSocket session.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/streamforge/streamforge/pkg/eventsub"
)

const (
	headerMessageID   = "Twitch-Eventsub-Message-Id"
	headerTimestamp   = "Twitch-Eventsub-Message-Timestamp"
	headerSignature   = "Twitch-Eventsub-Message-Signature"
	headerMessageType = "Twitch-Eventsub-Message-Type"
	headerSubType     = "Twitch-Eventsub-Subscription-Type"
)

const (
	messageTypeNotification = "notification"
	messageTypeVerification = "webhook_callback_verification"
	messageTypeRevocation   = "revocation"
)

const maxBodySize = 1 << 20

// Notifier receives verified notifications, shared with the WebSocket path.
type Notifier interface {
	Dispatch(ctx context.Context, subType eventsub.SubscriptionType, payload json.RawMessage)
}

type Server struct {
	secret   []byte
	notifier Notifier
	logger   *zap.Logger
}

func NewServer(secret string, notifier Notifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		secret:   []byte(secret),
		notifier: notifier,
		logger:   logger,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/eventsub/webhook", s.handleEventSub)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (s *Server) handleEventSub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !s.verifySignature(r, body) {
		s.logger.Warn("rejected webhook with bad signature",
			zap.String("message_id", r.Header.Get(headerMessageID)))
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var payload eventsub.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	switch r.Header.Get(headerMessageType) {
	case messageTypeVerification:
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(payload.Challenge))

	case messageTypeNotification:
		subType := eventsub.SubscriptionType(r.Header.Get(headerSubType))
		if subType == "" && payload.Subscription != nil {
			subType = payload.Subscription.Type
		}
		if subType != "" && payload.Event != nil {
			s.notifier.Dispatch(r.Context(), subType, payload.Event)
		}
		w.WriteHeader(http.StatusNoContent)

	case messageTypeRevocation:
		if sub := payload.Subscription; sub != nil {
			s.logger.Warn("webhook subscription revoked",
				zap.String("subscription_type", string(sub.Type)),
				zap.String("status", sub.Status))
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// verifySignature checks the HMAC-SHA256 of message id + timestamp + body
// against the signature header.
func (s *Server) verifySignature(r *http.Request, body []byte) bool {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(r.Header.Get(headerMessageID)))
	mac.Write([]byte(r.Header.Get(headerTimestamp)))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(r.Header.Get(headerSignature)))
}
