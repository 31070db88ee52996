package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/campaign-mailer/internal/api"
	"github.com/ignite/campaign-mailer/internal/app"
	"github.com/ignite/campaign-mailer/internal/config"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("Starting campaign-mailer server...")

	cfg, err := config.LoadFromEnv(envOr("CONFIG_PATH", "config/config.yaml"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Server.AdminToken == "" {
		log.Println("WARNING: ADMIN_TOKEN is not set; every /api request will be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	// Without a separate worker process the server runs the loops itself.
	embedded := a.DB == nil || os.Getenv("EMBEDDED_WORKER") == "true"
	if embedded {
		if err := a.Dispatcher.Start(); err != nil {
			log.Fatalf("Failed to start dispatcher: %v", err)
		}
		go a.Recovery.Start(ctx)
		go a.Retention.Start(ctx)
		log.Println("Embedded dispatcher and sweepers started")
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Cannot start server: %v", err)
	}
	server := api.NewServer(a.Router())

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")
	cancel()
	if embedded {
		a.Dispatcher.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
