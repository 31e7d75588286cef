package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// scenario is one scripted conversation loaded from a YAML file. The model
// side is fully scripted so a run is deterministic and needs no network.
type scenario struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`

	// Script is the ordered list of model responses, consumed one per model
	// call across the whole scenario (tool follow-ups and consolidation
	// calls included).
	Script []scriptedResponse `yaml:"script"`

	Turns []scenarioTurn `yaml:"turns"`

	// ExpectProfileContains asserts on the stored profile document after the
	// scenario finishes.
	ExpectProfileContains []string `yaml:"expect_profile_contains,omitempty"`
}

type scenarioTurn struct {
	User        string   `yaml:"user"`
	MustContain []string `yaml:"must_contain,omitempty"`
	Forbidden   []string `yaml:"forbidden,omitempty"`
}

type scriptedResponse struct {
	Text      string             `yaml:"text,omitempty"`
	ToolCalls []scriptedToolCall `yaml:"tool_calls,omitempty"`
}

type scriptedToolCall struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args,omitempty"`
}

func (c scriptedToolCall) argsJSON() (json.RawMessage, error) {
	if len(c.Args) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(c.Args)
}

func (s *scenario) validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("missing id")
	}
	if len(s.Turns) == 0 {
		return fmt.Errorf("scenario %s: no turns", s.ID)
	}
	if len(s.Script) == 0 {
		return fmt.Errorf("scenario %s: no script", s.ID)
	}
	for i, t := range s.Turns {
		if strings.TrimSpace(t.User) == "" {
			return fmt.Errorf("scenario %s: turns[%d]: empty user message", s.ID, i)
		}
	}
	for i, r := range s.Script {
		for j, call := range r.ToolCalls {
			if strings.TrimSpace(call.Name) == "" {
				return fmt.Errorf("scenario %s: script[%d].tool_calls[%d]: missing name", s.ID, i, j)
			}
		}
	}
	return nil
}

// loadScenarios reads every .yaml/.yml file in dir, sorted by filename.
func loadScenarios(dir string) ([]*scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var out []*scenario
	for _, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var sc scenario
		if err := yaml.Unmarshal(b, &sc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := sc.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, &sc)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	return out, nil
}
