package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sunfac/flavr-sub007/config"
	"github.com/sunfac/flavr-sub007/server"
	"github.com/sunfac/flavr-sub007/session"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Create session manager
	sessionManager, err := session.NewManager(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	// Start cleanup routine
	go sessionManager.StartCleanupRoutine(ctx)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	switch cfg.ServerType {
	case "voice":
		srv := server.NewVoiceServer(cfg, sessionManager)

		go func() {
			<-sigChan
			log.Println("\nReceived shutdown signal...")
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Voice server shutdown error: %v", err)
			}
		}()

		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatalf("Voice server error: %v", err)
		}

	case "chat":
		chatSrv := server.NewChatServer(cfg, sessionManager.Completer(), sessionManager.Store())

		go func() {
			<-sigChan
			log.Println("\nReceived shutdown signal...")
			cancel()
			sessionManager.Shutdown()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := chatSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Chat server shutdown error: %v", err)
			}
		}()

		if err := chatSrv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatalf("Chat server error: %v", err)
		}

	case "both":
		srv := server.NewVoiceServer(cfg, sessionManager)
		chatSrv := server.NewChatServer(cfg, sessionManager.Completer(), sessionManager.Store())

		go func() {
			<-sigChan
			log.Println("\nReceived shutdown signal...")
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Voice server shutdown error: %v", err)
			}
			if err := chatSrv.Shutdown(shutdownCtx); err != nil {
				log.Printf("Chat server shutdown error: %v", err)
			}
		}()

		// Start chat server in background
		go func() {
			if err := chatSrv.Start(); err != nil && err.Error() != "http: Server closed" {
				log.Fatalf("Chat server error: %v", err)
			}
		}()

		// Start voice server (blocks)
		if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
			log.Fatalf("Voice server error: %v", err)
		}

	default:
		log.Fatalf("Unknown SERVER_TYPE: %s", cfg.ServerType)
	}

	log.Println("Server stopped")
}
