package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// InitArgs describes a first-run config to write.
type InitArgs struct {
	ConfigPath string

	ProviderID   string
	ProviderType string
	BaseURL      string
	ModelName    string

	DBPath    string
	LogFormat string
	LogLevel  string
}

// InitConfig writes a starter config file. An existing config is never
// overwritten; rerunning init on a configured install is an error so a typo
// cannot wipe a working setup.
func InitConfig(args InitArgs) (writtenPath string, err error) {
	cfgPath := strings.TrimSpace(args.ConfigPath)
	if cfgPath == "" {
		cfgPath = DefaultConfigPath()
	}
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		return "", errors.New("config already exists: " + cfgPath)
	}

	providerID := strings.TrimSpace(args.ProviderID)
	if providerID == "" {
		providerID = strings.TrimSpace(args.ProviderType)
	}
	cfg := &Config{
		DBPath: strings.TrimSpace(args.DBPath),
		AI: &AIConfig{
			Providers: []AIProvider{{
				ID:      providerID,
				Type:    strings.TrimSpace(args.ProviderType),
				BaseURL: strings.TrimSpace(args.BaseURL),
				Models: []AIProviderModel{{
					ModelName: strings.TrimSpace(args.ModelName),
					IsDefault: true,
				}},
			}},
		},
		LogFormat: strings.TrimSpace(args.LogFormat),
		LogLevel:  strings.TrimSpace(args.LogLevel),
	}

	if err := Save(cfgPath, cfg); err != nil {
		return "", err
	}
	return filepath.Clean(cfgPath), nil
}
