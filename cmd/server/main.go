// AX Mentor - step-by-step business mentoring server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/ax-mentor/internal/api"
	"github.com/ashureev/ax-mentor/internal/chat"
	"github.com/ashureev/ax-mentor/internal/config"
	"github.com/ashureev/ax-mentor/internal/health"
	"github.com/ashureev/ax-mentor/internal/identity"
	"github.com/ashureev/ax-mentor/internal/llm"
	"github.com/ashureev/ax-mentor/internal/mentor"
	"github.com/ashureev/ax-mentor/internal/middleware"
	"github.com/ashureev/ax-mentor/internal/prompt"
	"github.com/ashureev/ax-mentor/internal/session"
	"github.com/ashureev/ax-mentor/internal/store"
	"github.com/ashureev/ax-mentor/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	prompts, err := loadPrompts(cfg.PromptsFile)
	if err != nil {
		slog.Error("Failed to load prompts", "error", err, "path", cfg.PromptsFile)
		os.Exit(1)
	}

	provider := llm.NewProvider(cfg.GoogleAPIKey, llm.GeminiFactory(logger),
		llm.WithClientLimits(cfg.MaxClients, cfg.SessionTTL))
	catalog := llm.NewCatalog(provider, cfg.DefaultModel, cfg.ModelCacheTTL)
	if !provider.HasDefaultKey() {
		slog.Info("GOOGLE_API_KEY not set, sessions must supply their own key")
	}

	// Initialize services.
	sessions := session.NewManager()
	mentorService := mentor.NewService(prompts, logger)

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
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

	// Initialize handlers.
	chatHandler := chat.NewHandler(sessions, mentorService, provider, catalog, conversationLogger, cfg)
	defer chatHandler.Close()

	baseHandler := api.NewHandler(repo, sessions, provider, catalog, cfg)
	mentorHandler := api.NewMentorHandler(baseHandler)
	exportHandler := api.NewExportHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo, sessions)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	mentorHandler.RegisterRoutes(r)
	exportHandler.RegisterRoutes(r)
	chatHandler.RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE turns stream for as long as the model takes, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start session sweeper.
	session.StartSweeper(ctx, sessions, repo, session.SweeperConfig{
		Interval:        cfg.SweepInterval,
		SessionTTL:      cfg.SessionTTL,
		ExportRetention: cfg.ExportRetention,
		Caches:          []session.CachePruner{provider, catalog},
	}, func(sess *session.Session) {
		chatHandler.Connections().CloseSession(sess.UserID, sess.SessionID)
		if key := sess.Settings().APIKey; key != "" {
			provider.Forget(key)
			catalog.Invalidate(key)
		}
		conversationLogger.Log(chat.ConversationLogEvent{
			UserID:    sess.UserID,
			SessionID: sess.SessionID,
			Channel:   "sweeper",
			Direction: "internal",
			EventType: "session_expired",
			Meta:      map[string]any{"last_seen": sess.LastSeen().UTC().Format(time.RFC3339)},
		})
	})

	if cfg.GRPCHealthPort != "" {
		healthServer := health.NewServer(repo, 15*time.Second, logger)
		go func() {
			if err := healthServer.ListenAndServe(ctx, ":"+cfg.GRPCHealthPort); err != nil {
				slog.Error("gRPC health service failed", "error", err)
			}
		}()
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func loadPrompts(path string) (*prompt.Registry, error) {
	if path == "" {
		return prompt.Default()
	}
	return prompt.Load(path)
}
