package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/orbitworks/orbit-agent/internal/assistant"
	"github.com/orbitworks/orbit-agent/internal/calendar"
	"github.com/orbitworks/orbit-agent/internal/config"
	"github.com/orbitworks/orbit-agent/internal/llm"
	"github.com/orbitworks/orbit-agent/internal/lockfile"
	"github.com/orbitworks/orbit-agent/internal/profile"
	"github.com/orbitworks/orbit-agent/internal/settings"
	"github.com/orbitworks/orbit-agent/internal/store"
)

// app wires the config, store, model client, and machine together for one
// CLI invocation.
type app struct {
	Machine *assistant.Machine
	Log     *slog.Logger

	db   *store.Store
	lock *lockfile.Lock
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(strings.TrimSpace(cfg.LogFormat), strings.TrimSpace(cfg.LogLevel))
	if err != nil {
		return nil, err
	}

	dbPath := cfg.EffectiveDBPath(cfgPath)

	// One agent process per state database.
	lock, err := lockfile.Acquire(dbPath + ".lock")
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			return nil, fmt.Errorf("another orbit-agent is already using %s", dbPath)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	db, err := store.Open(dbPath)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open store: %w", err)
	}

	secrets := settings.NewSecretsStore(config.DefaultSecretsPath(cfgPath))

	modelID, ok := cfg.AI.DefaultModelID()
	if !ok {
		_ = db.Close()
		_ = lock.Release()
		return nil, errors.New("no default model configured")
	}
	providerID, modelName, _ := strings.Cut(modelID, "/")
	provider, ok := cfg.AI.ProviderByID(providerID)
	if !ok {
		_ = db.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}
	apiKey, ok, err := secrets.GetAIProviderAPIKey(providerID)
	if err != nil {
		_ = db.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("read api key: %w", err)
	}
	if !ok {
		_ = db.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("no api key stored for provider %q (secrets: %s)", providerID, secrets.Path())
	}

	model, err := llm.NewClient(provider.Type, provider.BaseURL, apiKey)
	if err != nil {
		_ = db.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("init model client: %w", err)
	}

	// Consolidation reuses the chat model with a single-prompt request.
	completer := func(ctx context.Context, prompt string) (string, error) {
		completion, err := model.Complete(ctx, llm.CompleteRequest{
			Model: modelName,
			Messages: []llm.Message{
				{Role: llm.RoleUser, Text: prompt},
			},
		})
		if err != nil {
			return "", err
		}
		return completion.Text, nil
	}
	profiles := profile.NewManager(db, completer, logger)

	machine, err := assistant.NewMachine(assistant.Options{
		Store:     db,
		Model:     model,
		ModelName: modelName,
		Profiles:  profiles,
		Calendar:  calendarFactory(cfg.Calendar, secrets),
		Logger:    logger,
	})
	if err != nil {
		_ = db.Close()
		_ = lock.Release()
		return nil, err
	}

	return &app{Machine: machine, Log: logger, db: db, lock: lock}, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.lock != nil {
		_ = a.lock.Release()
	}
}

// calendarFactory builds per-user calendar clients from the stored OAuth
// refresh tokens. Nil when the calendar integration is not configured.
func calendarFactory(cfg *config.CalendarConfig, secrets *settings.SecretsStore) assistant.CalendarFactory {
	if cfg == nil {
		return nil
	}
	return func(ctx context.Context, userKey string) (calendar.Client, error) {
		clientSecret, ok, err := secrets.GetCalendarClientSecret()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.New("calendar client secret not configured")
		}
		token, ok, err := secrets.GetCalendarRefreshToken(userKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no calendar linked for user %q", userKey)
		}
		return calendar.NewGoogleClient(ctx, calendar.GoogleOptions{
			ClientID:     cfg.ClientID,
			ClientSecret: clientSecret,
			RefreshToken: token,
		})
	}
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
