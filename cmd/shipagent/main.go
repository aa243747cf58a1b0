package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/matt-hans/shipagent/internal/app"
	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/server"
)

// Process exit codes. Scripts key off these, keep them stable.
const (
	exitOK         = 0
	exitConfig     = 2
	exitSubprocess = 3
	exitInternal   = 4
)

var (
	// Command-line flags
	configFile   = flag.String("config", "", "Configuration file path (overrides auto-discovery)")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	serverPort   = flag.Int("port", 0, "Server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Server host (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("ShipAgent version %s\n", common.GetFullVersion())
		return exitOK
	}

	// Merge shorthand flags
	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}
	configPath := *configFile
	if *configFileC != "" {
		configPath = *configFileC
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	// Auto-discover config file if not specified
	if configPath == "" {
		if _, err := os.Stat("shipagent.toml"); err == nil {
			configPath = "shipagent.toml"
		} else if _, err := os.Stat("deployments/local/shipagent.toml"); err == nil {
			configPath = "deployments/local/shipagent.toml"
		}
	}

	config, err := common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return exitConfig
	}

	common.ApplyFlagOverrides(config, finalPort, *serverHost)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("config_file", configPath).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize application")
		var transportErr *interfaces.TransportError
		if errors.As(err, &transportErr) {
			return exitSubprocess
		}
		return exitInternal
	}
	defer application.Close()

	srv := server.New(application)

	serverErr := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				serverErr <- fmt.Errorf("server goroutine panicked: %v", r)
			}
		}()
		serverErr <- srv.Start()
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed")
			return exitInternal
		}
		return exitOK
	}

	return shutdown(srv, logger)
}

func shutdown(srv *server.Server, logger arbor.ILogger) int {
	logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
		return exitInternal
	}

	logger.Info().Msg("Server stopped")
	return exitOK
}
