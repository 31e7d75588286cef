package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/orbitworks/orbit-agent/internal/config"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		initCmd(os.Args[2:])
	case "chat":
		chatCmd(os.Args[2:])
	case "consolidate":
		consolidateCmd(os.Args[2:])
	case "version":
		fmt.Printf("orbit-agent %s (%s) %s\n", Version, Commit, BuildTime)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `orbit-agent

Usage:
  orbit-agent init [flags]
  orbit-agent chat [flags]
  orbit-agent consolidate [flags]
  orbit-agent version

Commands:
  init         Write a starter config file.
  chat         Interactive conversation with the assistant.
  consolidate  Fold a user's oldest conversation messages into their profile.
  version      Print build information.

`)
}

func initCmd(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)

	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	providerType := fs.String("provider", "openai", "Provider type: openai|anthropic|openai_compatible")
	providerID := fs.String("provider-id", "", "Provider id (default: same as provider type)")
	baseURL := fs.String("base-url", "", "Provider base URL (required for openai_compatible)")
	model := fs.String("model", "", "Default model name")
	dbPath := fs.String("db", "", "SQLite database path (default: orbit.db next to config)")
	logFormat := fs.String("log-format", "json", "Log format: json|text")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")

	_ = fs.Parse(args)

	if strings.TrimSpace(*model) == "" {
		fs.Usage()
		os.Exit(2)
	}

	out, err := config.InitConfig(config.InitArgs{
		ConfigPath:   *cfgPath,
		ProviderID:   *providerID,
		ProviderType: *providerType,
		BaseURL:      *baseURL,
		ModelName:    *model,
		DBPath:       *dbPath,
		LogFormat:    *logFormat,
		LogLevel:     *logLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Config written: %s\n", filepath.Clean(out))
	fmt.Printf("Next: store your provider API key in %s\n", config.DefaultSecretsPath(out))
}

func chatCmd(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	userKey := fs.String("user", "local", "User key for this conversation")
	_ = fs.Parse(args)

	app, err := newApp(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	fmt.Println("orbit-agent chat (ctrl-d to exit)")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, err := app.Machine.HandleMessage(ctx, *userKey, line)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}
}

func consolidateCmd(args []string) {
	fs := flag.NewFlagSet("consolidate", flag.ExitOnError)
	cfgPath := fs.String("config", config.DefaultConfigPath(), "Config file path")
	userKey := fs.String("user", "", "User key to consolidate")
	_ = fs.Parse(args)

	if strings.TrimSpace(*userKey) == "" {
		fs.Usage()
		os.Exit(2)
	}

	app, err := newApp(filepath.Clean(*cfgPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	pruned, err := app.Machine.ForceConsolidate(context.Background(), *userKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consolidate failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Consolidated %d messages for %s\n", pruned, *userKey)
}
