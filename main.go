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

	"github.com/xiaot623/agentmux/internal/adapter/ingress"
	"github.com/xiaot623/agentmux/internal/adapter/tmux"
	"github.com/xiaot623/agentmux/internal/config"
	"github.com/xiaot623/agentmux/internal/discussion"
	"github.com/xiaot623/agentmux/internal/hub"
	store "github.com/xiaot623/agentmux/internal/repository"
	"github.com/xiaot623/agentmux/internal/service"
	handler "github.com/xiaot623/agentmux/internal/transport/http"
	"github.com/xiaot623/agentmux/internal/transport/rpc"
	"github.com/xiaot623/agentmux/internal/transport/ws"
	"github.com/xiaot623/agentmux/policy"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting agentmux...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)
	log.Printf("tmux socket: %s", cfg.TmuxSocket)
	for _, a := range cfg.Agents {
		log.Printf("Agent %s (%s): %v in %s", a.ID, a.Kind, a.Command, a.WorkDir)
	}

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer db.Close()

	// Initialize policy engine
	ctx := context.Background()
	var policyEngine *policy.Engine
	if cfg.PolicyFile != "" {
		policyEngine, err = policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	} else {
		policyEngine, err = policy.NewEngine(ctx, policy.DefaultPolicy)
	}
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize event hub
	eventHub := hub.NewHub()
	go eventHub.Run()

	// Initialize multiplexer and service
	mux := tmux.NewClient(cfg.TmuxBinary, cfg.TmuxSocket, tmux.WithHistoryLimit(cfg.HistoryLimit))
	svc := service.New(db, mux, cfg, policyEngine, eventHub)
	defer svc.Close()

	ingressClient := ingress.NewClient(cfg.IngressURL)
	if ingressClient.Enabled() {
		svc.AddSink(ingressClient)
		log.Printf("Forwarding events to %s", cfg.IngressURL)
	}

	if err := svc.Reconcile(ctx); err != nil {
		log.Printf("WARN: reconcile failed: %v", err)
	}

	scheduler := discussion.NewScheduler(svc, svc, db, discussion.Options{
		ClipChars: cfg.DiscussionClipChars,
		Timeout:   cfg.DiscussionTimeout,
	})

	// Create HTTP server
	wsServer := ws.NewServer(cfg, eventHub, svc, scheduler)
	server := handler.NewServer(svc, scheduler, wsServer)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
	log.Printf("HTTP API started on port %d", cfg.HTTPPort)

	// Start relay RPC server
	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(eventHub)
		if err != nil {
			log.Fatalf("Failed to initialize RPC server: %v", err)
		}
		go func() {
			addr := fmt.Sprintf(":%d", cfg.RPCPort)
			if err := rpcServer.Start(addr); err != nil {
				log.Fatalf("Failed to start RPC server: %v", err)
			}
		}()
		log.Printf("Relay RPC started on port %d", cfg.RPCPort)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down agentmux...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if scheduler.Phase().Active() {
		if err := scheduler.Cancel(shutdownCtx); err != nil {
			log.Printf("Failed to cancel discussion: %v", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Failed to shutdown RPC server gracefully: %v", err)
		}
	}

	log.Println("agentmux stopped (agent sessions keep running)")
}
