package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/manpreetbhatti/inkroom/internal/api"
	"github.com/manpreetbhatti/inkroom/internal/auth"
	"github.com/manpreetbhatti/inkroom/internal/config"
	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/retention"
	"github.com/manpreetbhatti/inkroom/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	hub := ws.NewHub(store)
	hub.AllowOrigins(cfg.AllowedOrigins)
	go hub.Run()

	pruner := retention.New(store, retention.Config{
		Interval:     cfg.RetentionInterval,
		KeepMessages: cfg.ChatRetention,
	})
	pruner.Start()

	if cfg.JWTSecret == "" {
		log.Println("⚠️ JWT_SECRET is not set; only guest tokens will be accepted")
	}
	verifier := auth.NewVerifier(cfg.JWTSecret)

	mux := http.NewServeMux()
	api.New(hub, store).Register(mux)

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, verifier, w, r)
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           corsMiddleware(cfg.AllowedOrigins, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("Shutdown: %v", err)
		}
	}()

	log.Printf("🎨 Inkroom server starting on :%s", cfg.Port)
	if cfg.Store == config.StoreMongo {
		log.Printf("📁 Database: mongo %s/%s", cfg.MongoURI, cfg.MongoDatabase)
	} else {
		log.Printf("📁 Database: %s", cfg.DBPath)
	}
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws?token={token}")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     GET /api/rooms")
	log.Println("  - Room:      GET /api/rooms/{id}")
	log.Println("  - By slug:   GET /room/{slug}")
	log.Println("  - Drawings:  GET /drawings/{roomId}, POST /drawings, DELETE /drawings/{elementId}")
	log.Println("  - Preview:   GET /drawings/{roomId}/preview.png")
	log.Println("  - Chats:     GET /chats/{roomId}")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("ListenAndServe: ", err)
	}

	pruner.Stop()
	hub.Stop()
	log.Println("Server stopped")
}

func openStore(cfg config.Config) (db.Store, error) {
	if cfg.Store == config.StoreMongo {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return db.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	}
	return db.New(cfg.DBPath)
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
