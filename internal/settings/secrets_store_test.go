package settings

import (
	"path/filepath"
	"testing"
)

func newTestSecrets(t *testing.T) *SecretsStore {
	t.Helper()
	return NewSecretsStore(filepath.Join(t.TempDir(), "secrets.json"))
}

func TestSecretsStore_ProviderKeys(t *testing.T) {
	t.Parallel()
	s := newTestSecrets(t)

	if _, ok, err := s.GetAIProviderAPIKey("openai"); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}

	if err := s.SetAIProviderAPIKey("openai", "sk-test-123"); err != nil {
		t.Fatalf("SetAIProviderAPIKey: %v", err)
	}
	key, ok, err := s.GetAIProviderAPIKey("openai")
	if err != nil {
		t.Fatalf("GetAIProviderAPIKey: %v", err)
	}
	if !ok || key != "sk-test-123" {
		t.Fatalf("got %q ok=%v", key, ok)
	}

	has, err := s.HasAIProviderAPIKey("openai")
	if err != nil || !has {
		t.Fatalf("has=%v err=%v", has, err)
	}

	if err := s.ClearAIProviderAPIKey("openai"); err != nil {
		t.Fatalf("ClearAIProviderAPIKey: %v", err)
	}
	if _, ok, _ := s.GetAIProviderAPIKey("openai"); ok {
		t.Fatalf("key survived clear")
	}
}

func TestSecretsStore_CalendarSecrets(t *testing.T) {
	t.Parallel()
	s := newTestSecrets(t)

	if err := s.SetCalendarClientSecret("cs-abc"); err != nil {
		t.Fatalf("SetCalendarClientSecret: %v", err)
	}
	if err := s.SetCalendarRefreshToken("u1", "rt-111"); err != nil {
		t.Fatalf("SetCalendarRefreshToken: %v", err)
	}
	if err := s.SetCalendarRefreshToken("u2", "rt-222"); err != nil {
		t.Fatalf("SetCalendarRefreshToken: %v", err)
	}

	secret, ok, err := s.GetCalendarClientSecret()
	if err != nil || !ok || secret != "cs-abc" {
		t.Fatalf("secret=%q ok=%v err=%v", secret, ok, err)
	}
	token, ok, err := s.GetCalendarRefreshToken("u2")
	if err != nil || !ok || token != "rt-222" {
		t.Fatalf("token=%q ok=%v err=%v", token, ok, err)
	}
	if _, ok, _ := s.GetCalendarRefreshToken("u3"); ok {
		t.Fatalf("unknown user has a token")
	}
}

func TestSecretsStore_PersistsAcrossInstances(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "secrets.json")

	a := NewSecretsStore(path)
	if err := a.SetAIProviderAPIKey("anthropic", "sk-ant"); err != nil {
		t.Fatalf("SetAIProviderAPIKey: %v", err)
	}
	if err := a.SetCalendarRefreshToken("u1", "rt-1"); err != nil {
		t.Fatalf("SetCalendarRefreshToken: %v", err)
	}

	b := NewSecretsStore(path)
	key, ok, err := b.GetAIProviderAPIKey("anthropic")
	if err != nil || !ok || key != "sk-ant" {
		t.Fatalf("key=%q ok=%v err=%v", key, ok, err)
	}
	token, ok, err := b.GetCalendarRefreshToken("u1")
	if err != nil || !ok || token != "rt-1" {
		t.Fatalf("token=%q ok=%v err=%v", token, ok, err)
	}
}
