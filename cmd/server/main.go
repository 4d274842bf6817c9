package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"statebridge/internal/config"
	"statebridge/internal/engine"
	"statebridge/internal/handler"
	"statebridge/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := cfg.Logging.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	wsManager.SetMessageHandler(handler.NewNoticeMessageHandler(wsManager))
	go wsManager.Run(ctx)

	eng, err := engine.New(ctx, cfg, engine.Options{
		Notifier: wsManager,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	activityDone := make(chan struct{})
	go func() {
		eng.Activity.Run(ctx)
		close(activityDone)
	}()

	purge, err := eng.StartPurge(cfg.Migration.PurgeSchedule, logger)
	if err != nil {
		log.Fatalf("Failed to schedule code purge: %v", err)
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(cfg, eng, wsManager),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting statebridge on %s (env: %s, platform: %s)", addr, cfg.Server.Env, eng.Platform.Type)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	<-purge.Stop().Done()
	<-activityDone

	if err := eng.Close(shutdownCtx); err != nil {
		log.Printf("Engine did not close cleanly: %v", err)
	}

	log.Println("Server stopped gracefully")
}
