package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/corechat/ig-relay/internal/config"
	"github.com/corechat/ig-relay/internal/credstore"
	"github.com/corechat/ig-relay/internal/graph"
	"github.com/corechat/ig-relay/internal/lock"
	"github.com/corechat/ig-relay/internal/log"
	"github.com/corechat/ig-relay/internal/relay"
	"github.com/corechat/ig-relay/internal/server"
	"github.com/corechat/ig-relay/internal/storage"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "token":
		os.Exit(runTokenNoun(args))
	case "version":
		fmt.Printf("ig-relay version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`ig-relay - Instagram webhook relay gateway

Usage:
  ig-relay <command> [flags]

Commands:
  start           Run the relay service in foreground
  token status    Show whether a usable credential bundle is stored
  version         Show version information
  help            Show this help message

Flags:
  --config <path>  Config file (default: $IG_RELAY_CONFIG, ./config.yaml)
`)
}

func loadConfig(args []string, name string) (*config.Config, error) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	path := *configPath
	if path == "" {
		discovered, err := config.Discover()
		if err != nil {
			return nil, err
		}
		path = discovered
	}

	return config.Load(path)
}

func runStart(args []string) int {
	cfg, err := loadConfig(args, "start")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.Get()
	logger.Info("starting", "service", cfg.Service.Name, "version", version, "env", cfg.Service.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pidLock, err := lock.Acquire(filepath.Join(filepath.Dir(cfg.Store.Path), "ig-relay.pid"))
	if err != nil {
		logger.Error("lock acquisition failed", "error", err)
		return 1
	}
	defer pidLock.Release()

	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		logger.Error("storage open failed", "error", err)
		return 1
	}
	defer db.Close()

	store := credstore.New(db, log.WithComponent("credstore"))

	client := graph.New(graph.Config{
		AppID:       cfg.App.ID,
		AppSecret:   cfg.App.Secret,
		RedirectURI: cfg.App.RedirectURI,
		APIVersion:  cfg.App.GraphAPIVersion,
		Timeout:     cfg.App.Timeout,
	}, log.WithComponent("graph"))

	var forwarder server.EventForwarder
	rly := relay.New(relay.Config{
		CoreURL:    cfg.Relay.CoreURL,
		Secret:     cfg.Relay.Secret,
		ForwardAll: cfg.Relay.ForwardAll,
		Timeout:    cfg.Relay.Timeout,
	}, log.WithComponent("relay"))
	if rly.Enabled() {
		forwarder = rly
	} else {
		logger.Warn("relay.core_url not set, aggregator forwarding disabled")
	}

	if cfg.App.Secret == "" {
		logger.Warn("app.secret not set, webhook signatures will not be verified")
	}

	srv := server.New(server.Config{
		Listen:      cfg.Service.Listen,
		Production:  cfg.Service.Production(),
		AppSecret:   cfg.App.Secret,
		VerifyToken: cfg.App.VerifyToken,
		CORSOrigins: cfg.CORS.Origins,
		MaxBodySize: cfg.Limits.MaxBodySize,
		EchoReply:   cfg.Reply.Echo,
	}, client, store, forwarder, log.WithComponent("server"))

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server stopped", "error", err)
		return 1
	}

	logger.Info("shutdown complete")
	return 0
}

func runTokenNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: ig-relay token status [--config path]")
		return 1
	}

	switch args[0] {
	case "status":
		return runTokenStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown token action: %s\n", args[0])
		return 1
	}
}

func runTokenStatus(args []string) int {
	cfg, err := loadConfig(args, "token status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	log.Setup("ERROR", cfg.Service.LogFormat)

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer db.Close()

	creds, err := credstore.New(db, log.Get()).Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if !creds.Usable() {
		fmt.Println("Not authenticated. Visit /auth/login to authorize.")
		return 1
	}

	fmt.Printf("Authenticated\n")
	fmt.Printf("  page_id:    %s\n", creds.PageID)
	fmt.Printf("  ig_user_id: %s\n", creds.IGUserID)
	fmt.Printf("  scopes:     %s\n", strings.Join(creds.Scopes, ", "))
	return 0
}
