package twitch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/store"
)

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "tokens.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// authServer counts grant requests and returns a fresh token each time.
func authServer(t *testing.T, grants *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad grant form: %v", err)
		}
		n := grants.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-" + r.FormValue("grant_type") + "-" + time.Now().Format("150405.000000000"),
			"refresh_token": "refresh-next",
			"expires_in":    3600,
			"_n":            n,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChannelToken_UsesUnexpiredStoredToken(t *testing.T) {
	st := testStore(t)
	var grants atomic.Int64
	auth := authServer(t, &grants)

	err := st.UpdateChannelIntegration(context.Background(), &store.ChannelIntegration{
		ChannelID:    "999",
		AccessToken:  "stored-token",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed integration: %v", err)
	}

	tm := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())
	token, err := tm.ChannelToken(context.Background(), "999")
	if err != nil {
		t.Fatalf("ChannelToken failed: %v", err)
	}
	if token != "stored-token" {
		t.Errorf("expected stored token, got %q", token)
	}
	if grants.Load() != 0 {
		t.Errorf("expected no grant requests, got %d", grants.Load())
	}
}

func TestChannelToken_RefreshesExpiredToken(t *testing.T) {
	st := testStore(t)
	var grants atomic.Int64
	auth := authServer(t, &grants)

	err := st.UpdateChannelIntegration(context.Background(), &store.ChannelIntegration{
		ChannelID:    "999",
		AccessToken:  "stale-token",
		RefreshToken: "stored-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("seed integration: %v", err)
	}

	tm := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())
	token, err := tm.ChannelToken(context.Background(), "999")
	if err != nil {
		t.Fatalf("ChannelToken failed: %v", err)
	}
	if token == "stale-token" || token == "" {
		t.Errorf("expected refreshed token, got %q", token)
	}
	if grants.Load() != 1 {
		t.Errorf("expected 1 grant request, got %d", grants.Load())
	}

	// The refreshed credential is written back to the store.
	integ, err := st.ChannelIntegration(context.Background(), "999")
	if err != nil {
		t.Fatalf("re-read integration: %v", err)
	}
	if integ.AccessToken != token {
		t.Errorf("store not updated: %q vs %q", integ.AccessToken, token)
	}
	if integ.RefreshToken != "refresh-next" {
		t.Errorf("rotated refresh token not persisted, got %q", integ.RefreshToken)
	}
}

func TestChannelToken_NoIntegration(t *testing.T) {
	st := testStore(t)
	var grants atomic.Int64
	auth := authServer(t, &grants)

	tm := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())
	if _, err := tm.ChannelToken(context.Background(), "404"); err == nil {
		t.Fatal("expected error for unknown channel")
	}
}

func TestRefreshChannelToken_SingleFlight(t *testing.T) {
	st := testStore(t)

	var grants atomic.Int64
	release := make(chan struct{})
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grants.Add(1)
		<-release // hold every refresh in flight until all callers have joined
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "shared-token",
			"expires_in":   3600,
		})
	}))
	defer auth.Close()

	err := st.UpdateChannelIntegration(context.Background(), &store.ChannelIntegration{
		ChannelID:    "999",
		AccessToken:  "old",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("seed integration: %v", err)
	}

	tm := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = tm.RefreshChannelToken(context.Background(), "999")
		}()
	}
	time.Sleep(100 * time.Millisecond) // let all callers reach the flight group
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if tokens[i] != "shared-token" {
			t.Errorf("caller %d got %q", i, tokens[i])
		}
	}
	if n := grants.Load(); n != 1 {
		t.Errorf("expected exactly 1 refresh request, got %d", n)
	}
}

func TestChannelToken_SharesFlightWithRefresh(t *testing.T) {
	st := testStore(t)

	var grants atomic.Int64
	release := make(chan struct{})
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grants.Add(1)
		<-release
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "shared-token",
			"refresh_token": "rotated",
			"expires_in":    3600,
		})
	}))
	defer auth.Close()

	err := st.UpdateChannelIntegration(context.Background(), &store.ChannelIntegration{
		ChannelID:    "999",
		AccessToken:  "old",
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("seed integration: %v", err)
	}

	tm := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())

	// A cache-miss lookup and an unauthorized-triggered refresh race for the
	// same channel. Both must join one flight: the refresh token rotates on
	// every grant, so a duplicate exchange would burn the rotated credential.
	var wg sync.WaitGroup
	var lookupToken, refreshToken string
	var lookupErr, refreshErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		lookupToken, lookupErr = tm.ChannelToken(context.Background(), "999")
	}()
	go func() {
		defer wg.Done()
		refreshToken, refreshErr = tm.RefreshChannelToken(context.Background(), "999")
	}()
	time.Sleep(100 * time.Millisecond) // let both callers reach the flight group
	close(release)
	wg.Wait()

	if lookupErr != nil || refreshErr != nil {
		t.Fatalf("callers failed: %v / %v", lookupErr, refreshErr)
	}
	if lookupToken != "shared-token" || refreshToken != "shared-token" {
		t.Errorf("expected both callers to share one grant, got %q / %q", lookupToken, refreshToken)
	}
	if n := grants.Load(); n != 1 {
		t.Errorf("expected exactly 1 refresh request, got %d", n)
	}
}

func TestAppToken_PersistedAcrossManagers(t *testing.T) {
	st := testStore(t)
	var grants atomic.Int64
	auth := authServer(t, &grants)

	tm := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())
	first, err := tm.AppToken(context.Background())
	if err != nil {
		t.Fatalf("AppToken failed: %v", err)
	}
	if grants.Load() != 1 {
		t.Fatalf("expected 1 grant, got %d", grants.Load())
	}

	// A fresh manager (simulated restart) reuses the persisted token.
	tm2 := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())
	second, err := tm2.AppToken(context.Background())
	if err != nil {
		t.Fatalf("AppToken after restart failed: %v", err)
	}
	if second != first {
		t.Errorf("expected persisted token %q, got %q", first, second)
	}
	if grants.Load() != 1 {
		t.Errorf("expected no additional grants, got %d", grants.Load())
	}
}

func TestInvalidate_DropsCache(t *testing.T) {
	st := testStore(t)
	var grants atomic.Int64
	auth := authServer(t, &grants)

	tm := NewTokenManager(st, auth.URL, "cid", "secret", zap.NewNop())
	if _, err := tm.AppToken(context.Background()); err != nil {
		t.Fatalf("AppToken failed: %v", err)
	}

	tm.Invalidate("")
	if _, ok := tm.cached(appTokenKey); ok {
		t.Error("expected app token cache to be empty after Invalidate")
	}
}
