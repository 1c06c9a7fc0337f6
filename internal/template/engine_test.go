package template

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"
)

type fakePlatform struct {
	followers       int
	subscribers     int
	isFollower      bool
	followerCountEr error
}

func (f *fakePlatform) FollowerCount(ctx context.Context, broadcasterID string) (int, error) {
	if f.followerCountEr != nil {
		return 0, f.followerCountEr
	}
	return f.followers, nil
}

func (f *fakePlatform) SubscriberCount(ctx context.Context, broadcasterID string) (int, error) {
	return f.subscribers, nil
}

func (f *fakePlatform) IsFollower(ctx context.Context, broadcasterID, userID string) (bool, error) {
	return f.isFollower, nil
}

func newTestEngine() *Engine {
	e := NewEngine(nil)
	e.RegisterNamespace(GlobalNamespace())
	e.RegisterNamespace(TwitchNamespace())
	return e
}

func chatContext() *Context {
	return &Context{
		Client:    &fakePlatform{followers: 1234, subscribers: 56},
		ChannelID: "999",
		Event: map[string]any{
			"broadcaster_user_id":   "999",
			"broadcaster_user_name": "Streamer",
			"chatter_user_id":       "123",
			"chatter_user_login":    "alice",
			"message":               map[string]any{"text": "!hello"},
		},
		Results: map[string]any{},
	}
}

func TestResolveStringSubstitutesVariables(t *testing.T) {
	e := newTestEngine()
	got, err := e.ResolveString(context.Background(), "Hi ${username}, welcome to ${twitch.broadcaster_name}", chatContext())
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "Hi alice, welcome to Streamer" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveStringDefaultNamespaceIsTwitch(t *testing.T) {
	e := newTestEngine()
	got, err := e.ResolveString(context.Background(), "${user_id}", chatContext())
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "123" {
		t.Fatalf("got %q, want 123", got)
	}
}

func TestResolveStringUnknownKeyYieldsEmpty(t *testing.T) {
	e := newTestEngine()
	got, err := e.ResolveString(context.Background(), "a ${twitch.no_such_var} b", chatContext())
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "a  b" {
		t.Fatalf("got %q, want %q", got, "a  b")
	}
}

func TestResolveStringUnknownNamespaceYieldsEmpty(t *testing.T) {
	e := newTestEngine()
	got, err := e.ResolveString(context.Background(), "${nope.key}", chatContext())
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestResolveStringResolverErrorYieldsEmpty(t *testing.T) {
	e := newTestEngine()
	tc := chatContext()
	tc.Client = &fakePlatform{followerCountEr: errors.New("api down")}

	got, err := e.ResolveString(context.Background(), "count: ${twitch.follower_count}", tc)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "count: " {
		t.Fatalf("got %q", got)
	}
}

func TestResolveStringUnmetRequirementFailsFast(t *testing.T) {
	e := newTestEngine()
	tc := chatContext()
	tc.Client = nil

	_, err := e.ResolveString(context.Background(), "${twitch.username}", tc)
	if !errors.Is(err, ErrRequirementUnmet) {
		t.Fatalf("err = %v, want ErrRequirementUnmet", err)
	}
}

func TestResolveStringNonStringValuesAreJSONEncoded(t *testing.T) {
	e := newTestEngine()
	got, err := e.ResolveString(context.Background(), "followers: ${twitch.follower_count}", chatContext())
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "followers: 1234" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveRefResultPath(t *testing.T) {
	const actionID = "7f9df350-9a3f-4c3e-8f6c-0d6a3f1b2c4d"
	e := newTestEngine()
	tc := chatContext()
	tc.Results[actionID] = map[string]any{
		"clip": map[string]any{"id": "clip-1", "url": "https://clips.example/clip-1"},
	}

	got, err := e.ResolveString(context.Background(), "new clip: ${"+actionID+".clip.url}", tc)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "new clip: https://clips.example/clip-1" {
		t.Fatalf("got %q", got)
	}

	// Missing path is empty, not an error.
	got, err = e.ResolveString(context.Background(), "${"+actionID+".clip.missing}", tc)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestResolveValueRawModePreservesType(t *testing.T) {
	const actionID = "7f9df350-9a3f-4c3e-8f6c-0d6a3f1b2c4d"
	e := newTestEngine()
	tc := chatContext()
	tc.Results[actionID] = map[string]any{
		"items": []any{"a", "b", "c"},
	}

	got, err := e.ResolveValue(context.Background(), "${"+actionID+".items}", tc)
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	items, ok := got.([]any)
	if !ok {
		t.Fatalf("got %T, want []any", got)
	}
	if len(items) != 3 || items[0] != "a" {
		t.Fatalf("items = %v", items)
	}
}

func TestResolveValueEmbeddedTokenIsStringified(t *testing.T) {
	const actionID = "7f9df350-9a3f-4c3e-8f6c-0d6a3f1b2c4d"
	e := newTestEngine()
	tc := chatContext()
	tc.Results[actionID] = map[string]any{"items": []any{"a", "b"}}

	got, err := e.ResolveValue(context.Background(), "items: ${"+actionID+".items}", tc)
	if err != nil {
		t.Fatalf("ResolveValue: %v", err)
	}
	if got != `items: ["a","b"]` {
		t.Fatalf("got %q", got)
	}
}

func TestResolveConfigRecursive(t *testing.T) {
	e := newTestEngine()
	config := map[string]any{
		"message": "hello ${username}",
		"nested": map[string]any{
			"user": "${twitch.user_id}",
		},
		"list":  []any{"${username}", 5},
		"count": 3,
	}

	got, err := e.ResolveConfig(context.Background(), config, chatContext())
	if err != nil {
		t.Fatalf("ResolveConfig: %v", err)
	}
	if got["message"] != "hello alice" {
		t.Errorf("message = %v", got["message"])
	}
	nested := got["nested"].(map[string]any)
	if nested["user"] != "123" {
		t.Errorf("nested.user = %v", nested["user"])
	}
	list := got["list"].([]any)
	if list[0] != "alice" || list[1] != 5 {
		t.Errorf("list = %v", list)
	}
	if got["count"] != 3 {
		t.Errorf("count = %v", got["count"])
	}
}

func TestGlobalNamespaceVariables(t *testing.T) {
	e := newTestEngine()
	tc := &Context{}

	got, err := e.ResolveString(context.Background(), "${global.random_number}", tc)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	n, err := strconv.Atoi(got)
	if err != nil || n < 1 || n > 100 {
		t.Fatalf("random_number = %q", got)
	}

	got, err = e.ResolveString(context.Background(), "${global.random_string}", tc)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if !regexp.MustCompile(`^[A-Za-z]{8}$`).MatchString(got) {
		t.Fatalf("random_string = %q", got)
	}

	got, err = e.ResolveString(context.Background(), "${global.current_date}", tc)
	if err != nil {
		t.Fatalf("ResolveString: %v", err)
	}
	if !regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`).MatchString(got) {
		t.Fatalf("current_date = %q", got)
	}
}

func TestRawTokenDetection(t *testing.T) {
	cases := []struct {
		in   string
		ref  string
		want bool
	}{
		{"${a.b}", "a.b", true},
		{"${username}", "username", true},
		{"x ${a.b}", "", false},
		{"${a.b} y", "", false},
		{"${a}${b}", "", false},
		{"${}", "", false},
		{"plain", "", false},
	}
	for _, tc := range cases {
		ref, ok := rawToken(tc.in)
		if ok != tc.want || ref != tc.ref {
			t.Errorf("rawToken(%q) = %q, %v; want %q, %v", tc.in, ref, ok, tc.ref, tc.want)
		}
	}
}
