// Interview Room - AI technical interview server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/ashureev/interview-room/internal/api"
	"github.com/ashureev/interview-room/internal/chat"
	"github.com/ashureev/interview-room/internal/config"
	"github.com/ashureev/interview-room/internal/events"
	"github.com/ashureev/interview-room/internal/identity"
	"github.com/ashureev/interview-room/internal/interview"
	"github.com/ashureev/interview-room/internal/metrics"
	"github.com/ashureev/interview-room/internal/middleware"
	"github.com/ashureev/interview-room/internal/room"
	"github.com/ashureev/interview-room/internal/store"
	"github.com/ashureev/interview-room/web"
)

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func main() {
	envFile := flag.StringP("env", "e", ".env", "Env file path")
	logLevel := flag.StringP("log-level", "l", "info", "Log level (debug, info, warn, error)")
	port := flag.StringP("port", "p", "", "Listen port (overrides PORT)")
	flag.Parse()

	level, ok := logLevels[strings.ToLower(*logLevel)]
	if !ok {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(ctx, cfg.DBDriver, cfg.DBPath, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.DefaultRegisterer)
	}

	model, err := chat.NewModel(ctx, cfg.Model)
	if err != nil {
		slog.Warn("Language model unavailable, chat requests will fail", "provider", cfg.Model.Provider, "error", err)
	} else {
		slog.Info("Language model configured", "provider", model.Provider(), "model", cfg.Model.Name)
	}

	publisher := events.New(&events.Config{
		Brokers:   cfg.Kafka.Brokers,
		Topic:     cfg.Kafka.Topic,
		Principal: cfg.Kafka.Principal,
		Enabled:   cfg.Kafka.Enabled,
	}, m)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			slog.Error("Failed to close event publisher", "error", closeErr)
		}
	}()

	convLog, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	gateway := chat.NewGateway(repo, model, chat.Settings{
		SystemInstruction: cfg.Interview.SystemInstruction,
		FirstTurnPreamble: cfg.Interview.FirstTurnPreamble,
		Temperature:       cfg.Model.Temperature,
		MaxOutputTokens:   cfg.Model.MaxOutputTokens,
		Timeout:           cfg.Model.Timeout,
	},
		chat.WithMetrics(m),
		chat.WithPublisher(publisher),
		chat.WithConversationLogger(convLog),
	)
	limiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Close()
	rooms := room.NewManager(m)

	// Initialize handlers.
	chatHandler := chat.NewHandler(gateway, limiter, m)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	sessionHandler := api.NewSessionHandler(repo, cfg)
	roomHandler := room.NewHandler(repo, rooms,
		func(userID string) interview.ChatClient { return gateway.For(userID) },
		room.HandlerConfig{
			Interview: interview.Config{
				AutoSubmitDelay: cfg.Interview.AutoSubmitDelay,
				AutoListen:      cfg.Interview.AutoListen,
				ResumeListening: cfg.Interview.ResumeListening,
				OpeningLine:     cfg.Interview.OpeningLine,
				RequestTimeout:  cfg.Model.Timeout + 10*time.Second,
			},
			Language: cfg.Interview.Voice.Language,
			Output: interview.OutputOptions{
				Lang:   cfg.Interview.Voice.Language,
				Rate:   cfg.Interview.Voice.Rate,
				Pitch:  cfg.Interview.Voice.Pitch,
				Policy: interview.DefaultVoicePolicy(cfg.Interview.Voice.Language, cfg.Interview.Voice.Preferred),
			},
			AllowedOrigin: cfg.FrontendURL,
			IsDev:         cfg.IsDevelopment(),
		}, m)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg), cfg.Identity.Header, identity.TabHeaderName))

	// Public routes.
	healthHandler.RegisterHealth(r)
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Identity-scoped routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, identity.Options{
			Mode:   cfg.Identity.Mode,
			Header: cfg.Identity.Header,
			IsDev:  cfg.IsDevelopment(),
		}))
		sessionHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
		r.Get("/ws/interview", roomHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket rooms are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	room.StartSweeper(ctx, rooms, cfg.Room.IdleTTL, cfg.Room.SweepInterval)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	rooms.CloseAll(room.ReasonShutdown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
