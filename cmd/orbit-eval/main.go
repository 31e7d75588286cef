package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/orbitworks/orbit-agent/internal/assistant"
	"github.com/orbitworks/orbit-agent/internal/llm"
	"github.com/orbitworks/orbit-agent/internal/profile"
	"github.com/orbitworks/orbit-agent/internal/store"
)

// orbit-eval runs scripted conversation scenarios against the real machine
// and storage layers, with the model fully scripted. It exists to catch
// regressions in turn handling, checkpointing, and profile writes without
// spending tokens.

type scenarioResult struct {
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	Pass       bool     `json:"pass"`
	Failures   []string `json:"failures,omitempty"`
	Turns      int      `json:"turns"`
	ModelCalls int      `json:"model_calls"`
	DurationMS int64    `json:"duration_ms"`
}

func main() {
	scenarioDir := flag.String("scenarios", "", "Directory of YAML scenario files")
	outPath := flag.String("out", "", "Write JSON results to this file (default: stdout only)")
	verbose := flag.Bool("v", false, "Log machine internals during runs")
	flag.Parse()

	if strings.TrimSpace(*scenarioDir) == "" {
		flag.Usage()
		os.Exit(2)
	}

	scenarios, err := loadScenarios(*scenarioDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load scenarios: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	workDir, err := os.MkdirTemp("", "orbit-eval-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkdtemp: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(workDir)

	results := make([]scenarioResult, 0, len(scenarios))
	failed := 0
	for i, sc := range scenarios {
		res := runScenario(context.Background(), filepath.Join(workDir, fmt.Sprintf("s%03d.db", i)), sc, logger)
		if !res.Pass {
			failed++
		}
		status := "PASS"
		if !res.Pass {
			status = "FAIL"
		}
		fmt.Printf("%-4s %s (%d turns, %d model calls)\n", status, res.ID, res.Turns, res.ModelCalls)
		for _, f := range res.Failures {
			fmt.Printf("     - %s\n", f)
		}
		results = append(results, res)
	}

	if strings.TrimSpace(*outPath) != "" {
		b, err := json.MarshalIndent(results, "", "  ")
		if err == nil {
			err = os.WriteFile(*outPath, append(b, '\n'), 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "write results: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Printf("\n%d/%d scenarios passed\n", len(results)-failed, len(results))
	if failed > 0 {
		os.Exit(1)
	}
}

func runScenario(ctx context.Context, dbPath string, sc *scenario, logger *slog.Logger) scenarioResult {
	start := time.Now()
	res := scenarioResult{ID: sc.ID, Title: sc.Title, Turns: len(sc.Turns)}
	fail := func(format string, args ...any) {
		res.Failures = append(res.Failures, fmt.Sprintf(format, args...))
	}

	db, err := store.Open(dbPath)
	if err != nil {
		fail("open store: %v", err)
		return res
	}
	defer db.Close()

	model := newScriptedClient(sc.Script)
	profiles := profile.NewManager(db, func(ctx context.Context, prompt string) (string, error) {
		completion, err := model.Complete(ctx, llm.CompleteRequest{
			Model:    "scripted",
			Messages: []llm.Message{{Role: llm.RoleUser, Text: prompt}},
		})
		if err != nil {
			return "", err
		}
		return completion.Text, nil
	}, logger)

	machine, err := assistant.NewMachine(assistant.Options{
		Store:     db,
		Model:     model,
		ModelName: "scripted",
		Profiles:  profiles,
		Logger:    logger,
	})
	if err != nil {
		fail("init machine: %v", err)
		return res
	}

	userKey := "eval-" + sc.ID
	for i, turn := range sc.Turns {
		reply, err := machine.HandleMessage(ctx, userKey, turn.User)
		if err != nil {
			fail("turn %d: %v", i+1, err)
			break
		}
		for _, want := range turn.MustContain {
			if !strings.Contains(reply, want) {
				fail("turn %d: reply missing %q", i+1, want)
			}
		}
		for _, bad := range turn.Forbidden {
			if strings.Contains(reply, bad) {
				fail("turn %d: reply contains forbidden %q", i+1, bad)
			}
		}
	}

	if len(sc.ExpectProfileContains) > 0 {
		text, _, err := profiles.ReadProfile(ctx, userKey)
		if err != nil {
			fail("read profile: %v", err)
		} else {
			for _, want := range sc.ExpectProfileContains {
				if !strings.Contains(text, want) {
					fail("profile missing %q", want)
				}
			}
		}
	}

	res.ModelCalls = model.calls
	res.Pass = len(res.Failures) == 0
	res.DurationMS = time.Since(start).Milliseconds()
	return res
}
