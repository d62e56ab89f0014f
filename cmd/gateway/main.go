package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gestore/gateway/internal/infrastructure/config"
	"github.com/gestore/gateway/internal/infrastructure/server"
)

func main() {
	configFile := flag.String("config", os.Getenv("GATEWAY_CONFIG_FILE"), "optional TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to create gateway: %v", err)
	}

	installCtx, cancelInstall := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := srv.Install(installCtx); err != nil {
		cancelInstall()
		log.Fatalf("install failed: %v", err)
	}
	cancelInstall()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	case err := <-errChan:
		if err != nil {
			log.Fatalf("gateway error: %v", err)
		}
	}
}
