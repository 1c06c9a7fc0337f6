package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamforge/streamforge/pkg/eventsub"
)

const testSecret = "s3cret"

type capturedDispatch struct {
	subType eventsub.SubscriptionType
	payload string
}

type captureNotifier struct {
	dispatches []capturedDispatch
}

func (c *captureNotifier) Dispatch(ctx context.Context, subType eventsub.SubscriptionType, payload json.RawMessage) {
	c.dispatches = append(c.dispatches, capturedDispatch{subType, string(payload)})
}

func sign(id, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(id))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postEvent(t *testing.T, srv http.Handler, messageType, subType string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/eventsub/webhook", bytes.NewReader(body))
	req.Header.Set(headerMessageID, "msg-1")
	req.Header.Set(headerTimestamp, "2026-08-28T12:00:00Z")
	req.Header.Set(headerMessageType, messageType)
	if subType != "" {
		req.Header.Set(headerSubType, subType)
	}
	req.Header.Set(headerSignature, signature)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestWebhookChallengeEcho(t *testing.T) {
	srv := NewServer(testSecret, &captureNotifier{}, nil).Routes()
	body := []byte(`{"challenge":"pengu","subscription":{"type":"channel.follow"}}`)

	rec := postEvent(t, srv, messageTypeVerification, "", body, sign("msg-1", "2026-08-28T12:00:00Z", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got, _ := io.ReadAll(rec.Body)
	if string(got) != "pengu" {
		t.Fatalf("body = %q, want challenge echoed", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("content type = %q", ct)
	}
}

func TestWebhookNotificationDispatches(t *testing.T) {
	notifier := &captureNotifier{}
	srv := NewServer(testSecret, notifier, nil).Routes()
	body := []byte(`{"subscription":{"type":"channel.follow"},"event":{"user_login":"alice","broadcaster_user_id":"999"}}`)

	rec := postEvent(t, srv, messageTypeNotification, "channel.follow", body, sign("msg-1", "2026-08-28T12:00:00Z", body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(notifier.dispatches) != 1 {
		t.Fatalf("dispatches = %d, want 1", len(notifier.dispatches))
	}
	d := notifier.dispatches[0]
	if d.subType != eventsub.SubChannelFollow {
		t.Errorf("subType = %q", d.subType)
	}
	if d.payload != `{"user_login":"alice","broadcaster_user_id":"999"}` {
		t.Errorf("payload = %s", d.payload)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	notifier := &captureNotifier{}
	srv := NewServer(testSecret, notifier, nil).Routes()
	body := []byte(`{"subscription":{"type":"channel.follow"},"event":{}}`)

	rec := postEvent(t, srv, messageTypeNotification, "channel.follow", body, "sha256=deadbeef")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(notifier.dispatches) != 0 {
		t.Fatalf("dispatches = %d, want 0", len(notifier.dispatches))
	}
}

func TestWebhookRejectsTamperedBody(t *testing.T) {
	notifier := &captureNotifier{}
	srv := NewServer(testSecret, notifier, nil).Routes()
	body := []byte(`{"subscription":{"type":"channel.follow"},"event":{}}`)
	sig := sign("msg-1", "2026-08-28T12:00:00Z", body)

	tampered := []byte(`{"subscription":{"type":"channel.follow"},"event":{"user_login":"mallory"}}`)
	rec := postEvent(t, srv, messageTypeNotification, "channel.follow", tampered, sig)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if len(notifier.dispatches) != 0 {
		t.Fatalf("dispatches = %d, want 0", len(notifier.dispatches))
	}
}

func TestWebhookRevocationIsAcknowledged(t *testing.T) {
	notifier := &captureNotifier{}
	srv := NewServer(testSecret, notifier, nil).Routes()
	body := []byte(`{"subscription":{"type":"channel.follow","status":"authorization_revoked"}}`)

	rec := postEvent(t, srv, messageTypeRevocation, "channel.follow", body, sign("msg-1", "2026-08-28T12:00:00Z", body))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(notifier.dispatches) != 0 {
		t.Fatalf("dispatches = %d, want 0", len(notifier.dispatches))
	}
}

func TestWebhookHealthz(t *testing.T) {
	srv := NewServer(testSecret, &captureNotifier{}, nil).Routes()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
