package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const sampleScenario = `id: remember-allergy
title: Fact capture via profile tool
script:
  - tool_calls:
      - name: update_profile
        args:
          fact: "Allergic to peanuts"
  - text: "Got it, I'll remember your peanut allergy."
turns:
  - user: "I'm allergic to peanuts"
    must_contain: ["peanut"]
    forbidden: ["Error:"]
expect_profile_contains: ["Allergic to peanuts"]
`

func writeScenario(t *testing.T, dir string, name string, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
}

func TestLoadScenarios(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeScenario(t, dir, "01_allergy.yaml", sampleScenario)
	writeScenario(t, dir, "ignore.txt", "not yaml")

	scenarios, err := loadScenarios(dir)
	if err != nil {
		t.Fatalf("loadScenarios: %v", err)
	}
	if len(scenarios) != 1 || scenarios[0].ID != "remember-allergy" {
		t.Fatalf("scenarios = %+v", scenarios)
	}
	if len(scenarios[0].Script) != 2 || scenarios[0].Script[0].ToolCalls[0].Name != "update_profile" {
		t.Fatalf("script = %+v", scenarios[0].Script)
	}
}

func TestLoadScenarios_RejectsInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeScenario(t, dir, "bad.yaml", "id: x\nturns: []\nscript: []\n")

	if _, err := loadScenarios(dir); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestRunScenario_Pass(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeScenario(t, dir, "01_allergy.yaml", sampleScenario)
	scenarios, err := loadScenarios(dir)
	if err != nil {
		t.Fatalf("loadScenarios: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := runScenario(context.Background(), filepath.Join(dir, "s.db"), scenarios[0], logger)
	if !res.Pass {
		t.Fatalf("scenario failed: %v", res.Failures)
	}
	if res.ModelCalls != 2 {
		t.Fatalf("model calls = %d", res.ModelCalls)
	}
}

func TestRunScenario_FailureIsReported(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeScenario(t, dir, "01_wrong.yaml", `id: wrong-expectation
script:
  - text: "Hello."
turns:
  - user: "hi"
    must_contain: ["Goodbye"]
`)
	scenarios, err := loadScenarios(dir)
	if err != nil {
		t.Fatalf("loadScenarios: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := runScenario(context.Background(), filepath.Join(dir, "s.db"), scenarios[0], logger)
	if res.Pass {
		t.Fatalf("expected failure")
	}
	if len(res.Failures) == 0 {
		t.Fatalf("no failures recorded")
	}
}
