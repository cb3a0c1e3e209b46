package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmbridge/fc-bridge/bridge"
	"github.com/llmbridge/fc-bridge/config"
)

func main() {
	configPath := flag.String("config", "bridge.yaml", "path to the bridge configuration file")
	flag.Parse()

	snap, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := bridge.NewLogMonitorWriter(os.Stdout)
	logger.SetLogLevel(parseLogLevel(snap.Config.Features.LogLevel))

	store := config.NewStore(snap)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := config.NewWatcher(*configPath, store, nil)
	if err != nil {
		log.Fatalf("failed to create config watcher: %v", err)
	}
	if err := watcher.Start(ctx); err != nil {
		log.Fatalf("failed to start config watcher: %v", err)
	}
	defer watcher.Close()

	upstream := bridge.NewUpstreamClient(time.Duration(snap.Config.Server.Timeout) * time.Second)
	server := bridge.NewServer(store, upstream, logger)

	addr := fmt.Sprintf("%s:%d", snap.Config.Server.Host, snap.Config.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Engine(),
	}

	go func() {
		logger.Infof("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Infof("shutdown signal received, draining connections")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error: %v", err)
		os.Exit(1)
	}
	logger.Infof("shutdown complete")
}

func parseLogLevel(s string) bridge.LogLevel {
	switch s {
	case "debug":
		return bridge.LevelDebug
	case "warn":
		return bridge.LevelWarn
	case "error":
		return bridge.LevelError
	default:
		return bridge.LevelInfo
	}
}
