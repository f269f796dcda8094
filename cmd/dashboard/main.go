package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tullo/moddash/config"
	"github.com/tullo/moddash/internal/auth"
	"github.com/tullo/moddash/internal/cache"
	"github.com/tullo/moddash/internal/handlers"
	"github.com/tullo/moddash/internal/logging"
	"github.com/tullo/moddash/internal/middleware"
	"github.com/tullo/moddash/internal/push"
	"github.com/tullo/moddash/internal/remote"
	"github.com/tullo/moddash/internal/session"
	"github.com/tullo/moddash/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		if err := serve(cfg, log); err != nil {
			log.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case "token":
		if err := mintToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n", command)
		fmt.Println("Usage: dashboard [serve | token <user-uuid> [guild-id ...]]")
		os.Exit(1)
	}
}

// mintToken prints a dashboard token; login itself lives elsewhere.
func mintToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: dashboard token <user-uuid> [guild-id ...]")
	}
	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	token, err := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours).GenerateToken(userID, args[1:]...)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func serve(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIToken, cfg.Remote.RequestTimeout, log,
		remote.WithRateLimit(cfg.Remote.RequestsPerSec))

	// Connect to Redis when a component needs it
	var redis *cache.RedisClient
	if cfg.Push.Transport == config.TransportRedis || cfg.Push.Relay {
		rc, err := cache.NewRedisClient(ctx, cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			if cfg.Push.Transport == config.TransportRedis {
				return fmt.Errorf("connect to redis: %w", err)
			}
			log.Warn("failed to connect to redis, running without relay", "error", err)
		} else {
			redis = rc
			defer redis.Close()
		}
	}

	rooms, err := newRooms(cfg, redis, log)
	if err != nil {
		return err
	}
	defer rooms.Close()
	go func() {
		if err := rooms.Run(ctx); err != nil {
			log.Error("push connection stopped", "error", err)
		}
	}()

	sessions := session.NewRegistry(client, rooms, session.Options{
		ReconcileDelay:     cfg.Dashboard.ReconcileDelay,
		AutoCorrectChannel: cfg.Dashboard.AutoCorrectChannel,
		ExportLimit:        cfg.Dashboard.ExportLimit,
	}, log)
	defer sessions.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	dashboardHandler := handlers.NewDashboardHandler(sessions, client, log)

	// Browser live channel relaying the followed guild's room
	hub := websocket.NewHub(log)
	go hub.Run(ctx)
	wsHandler := websocket.NewHandler(hub, jwtService, rooms, cfg.CORS.AllowedOrigins, log)

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitRequestsPerSec, log)
	if redis != nil {
		rateLimiter.WithShared(redis)
	}
	rateLimiter.Cleanup(ctx, 5*time.Minute, 30*time.Minute)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "push_connected": rooms.Connected()})
	})

	// WebSocket endpoint
	router.GET("/ws", wsHandler.HandleWebSocket)

	// Protected routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtService))
	handlers.RegisterRoutes(api, dashboardHandler, rateLimiter)
	api.GET("/online-users", wsHandler.GetOnlineUsers)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting dashboard server", "addr", srv.Addr, "env", cfg.Server.Env, "push", cfg.Push.Transport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRooms builds the push connection manager for the configured transport.
// With a Redis client and relay enabled, received events are republished
// for other dashboard instances.
func newRooms(cfg *config.Config, redis *cache.RedisClient, log *slog.Logger) (*push.Manager, error) {
	var transport push.Transport
	switch cfg.Push.Transport {
	case config.TransportWebsocket:
		transport = push.NewWebsocketTransport(cfg.Remote.PushURL, cfg.Remote.APIToken, log)
	case config.TransportRedis:
		if redis == nil {
			return nil, errors.New("redis transport requires a redis connection")
		}
		transport = push.NewRedisTransport(redis, log)
	case config.TransportNone:
		transport = push.NewLoopbackTransport()
	default:
		return nil, fmt.Errorf("unknown push transport %q", cfg.Push.Transport)
	}

	var opts []push.Option
	if cfg.Push.Relay && redis != nil && cfg.Push.Transport != config.TransportRedis {
		opts = append(opts, push.WithRelay(redis))
	}
	return push.NewManager(transport, log, opts...), nil
}
