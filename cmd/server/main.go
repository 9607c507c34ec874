package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/pollbox/pollbox/internal/auth"
	"github.com/pollbox/pollbox/internal/cache"
	"github.com/pollbox/pollbox/internal/config"
	"github.com/pollbox/pollbox/internal/db"
	routes "github.com/pollbox/pollbox/internal/http"
	"github.com/pollbox/pollbox/internal/models"
	"github.com/pollbox/pollbox/internal/polls"
	"github.com/pollbox/pollbox/internal/ws"
)

// hubPublisher is the cache used when no Redis is configured: events go
// straight to the local websocket hub and nothing is cached.
type hubPublisher struct {
	polls.NopCache
	hub *ws.Hub
}

func (p hubPublisher) Publish(ctx context.Context, pollID string, event []byte) {
	select {
	case p.hub.Broadcast <- event:
	default:
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, reading from environment")
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config.InitLogging(cfg.Level)

	database, err := db.Init(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	log.Info("Running database migrations...")
	err = database.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Poll{},
		&models.PollOption{},
		&models.Response{},
	)
	if err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Info("Migrations complete.")

	hub := ws.NewHub()
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pollCache polls.Cache = hubPublisher{hub: hub}
	if cfg.RedisURI != "" {
		redisCache, err := cache.New(cfg.RedisURI)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		pollCache = redisCache

		// Bridge pub/sub into the local hub so every instance sees
		// every event.
		go func() {
			for event := range redisCache.Subscribe(ctx) {
				select {
				case hub.Broadcast <- event:
				default:
				}
			}
		}()
	}

	authService := auth.NewService(database, time.Duration(cfg.SessionTTLHours)*time.Hour)
	pollService := polls.NewService(database, pollCache, cfg.IPSalt)
	env := &routes.Env{Auth: authService, Polls: pollService}

	router := gin.New()
	routes.SetupRoutes(router, env, hub, cfg)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s", err)
		}
	}()

	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exiting")
}
