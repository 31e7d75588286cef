package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SecretsStore persists user-managed secrets to a local file.
//
// It is intentionally separate from config.json:
// - config.json contains the provider/model registry and non-secret settings
// - secrets.json contains user-provided secrets (AI provider API keys, calendar credentials)
//
// Secrets must never be echoed back to callers that only need status; use
// HasAIProviderAPIKey and friends for that.
type SecretsStore struct {
	path string
	mu   sync.Mutex
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.path)
}

type secretsFile struct {
	SchemaVersion int              `json:"schema_version"`
	AI            *aiSecrets       `json:"ai,omitempty"`
	Calendar      *calendarSecrets `json:"calendar,omitempty"`
}

type aiSecrets struct {
	ProviderAPIKeys map[string]string `json:"provider_api_keys,omitempty"`
}

type calendarSecrets struct {
	ClientSecret string `json:"client_secret,omitempty"`
	// UserRefreshTokens maps a user key to that user's OAuth refresh token.
	UserRefreshTokens map[string]string `json:"user_refresh_tokens,omitempty"`
}

func (s *SecretsStore) GetAIProviderAPIKey(providerID string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return "", false, errors.New("missing provider id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf == nil || sf.AI == nil {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.AI.ProviderAPIKeys[providerID])
	return v, v != "", nil
}

func (s *SecretsStore) HasAIProviderAPIKey(providerID string) (bool, error) {
	_, ok, err := s.GetAIProviderAPIKey(providerID)
	return ok, err
}

func (s *SecretsStore) SetAIProviderAPIKey(providerID string, apiKey string) error {
	providerID = strings.TrimSpace(providerID)
	apiKey = strings.TrimSpace(apiKey)
	if providerID == "" {
		return errors.New("missing provider id")
	}
	if apiKey == "" {
		return errors.New("missing api key")
	}
	return s.mutate(func(sf *secretsFile) error {
		if sf.AI == nil {
			sf.AI = &aiSecrets{}
		}
		if sf.AI.ProviderAPIKeys == nil {
			sf.AI.ProviderAPIKeys = make(map[string]string)
		}
		sf.AI.ProviderAPIKeys[providerID] = apiKey
		return nil
	})
}

func (s *SecretsStore) ClearAIProviderAPIKey(providerID string) error {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return errors.New("missing provider id")
	}
	return s.mutate(func(sf *secretsFile) error {
		if sf.AI != nil {
			delete(sf.AI.ProviderAPIKeys, providerID)
			if len(sf.AI.ProviderAPIKeys) == 0 {
				sf.AI.ProviderAPIKeys = nil
			}
		}
		return nil
	})
}

func (s *SecretsStore) GetCalendarClientSecret() (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf == nil || sf.Calendar == nil {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.Calendar.ClientSecret)
	return v, v != "", nil
}

func (s *SecretsStore) SetCalendarClientSecret(secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return errors.New("missing client secret")
	}
	return s.mutate(func(sf *secretsFile) error {
		if sf.Calendar == nil {
			sf.Calendar = &calendarSecrets{}
		}
		sf.Calendar.ClientSecret = secret
		return nil
	})
}

func (s *SecretsStore) GetCalendarRefreshToken(userKey string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return "", false, errors.New("missing user key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return "", false, err
	}
	if sf == nil || sf.Calendar == nil {
		return "", false, nil
	}
	v := strings.TrimSpace(sf.Calendar.UserRefreshTokens[userKey])
	return v, v != "", nil
}

func (s *SecretsStore) SetCalendarRefreshToken(userKey string, token string) error {
	userKey = strings.TrimSpace(userKey)
	token = strings.TrimSpace(token)
	if userKey == "" {
		return errors.New("missing user key")
	}
	if token == "" {
		return errors.New("missing refresh token")
	}
	return s.mutate(func(sf *secretsFile) error {
		if sf.Calendar == nil {
			sf.Calendar = &calendarSecrets{}
		}
		if sf.Calendar.UserRefreshTokens == nil {
			sf.Calendar.UserRefreshTokens = make(map[string]string)
		}
		sf.Calendar.UserRefreshTokens[userKey] = token
		return nil
	})
}

func (s *SecretsStore) mutate(apply func(*secretsFile) error) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf == nil {
		sf = &secretsFile{SchemaVersion: 1}
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = 1
	}
	if err := apply(sf); err != nil {
		return err
	}
	return s.saveLocked(sf)
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	path := strings.TrimSpace(s.path)
	if path == "" {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &secretsFile{SchemaVersion: 1}, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, err
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = 1
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	if sf == nil {
		return errors.New("nil secrets")
	}
	path := strings.TrimSpace(s.path)
	if path == "" {
		return errors.New("missing secrets path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
