// VisoLabs - adaptive image-description practice server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ashureev/viso-labs/internal/agent"
	"github.com/ashureev/viso-labs/internal/api"
	"github.com/ashureev/viso-labs/internal/catalog"
	"github.com/ashureev/viso-labs/internal/config"
	"github.com/ashureev/viso-labs/internal/identity"
	"github.com/ashureev/viso-labs/internal/lesson"
	"github.com/ashureev/viso-labs/internal/live"
	"github.com/ashureev/viso-labs/internal/metrics"
	"github.com/ashureev/viso-labs/internal/middleware"
	"github.com/ashureev/viso-labs/internal/retention"
	"github.com/ashureev/viso-labs/internal/rpc"
	"github.com/ashureev/viso-labs/internal/store"
	"github.com/ashureev/viso-labs/web"
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

	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		slog.Warn("Provider credentials missing, session generation will fail", "missing", missing)
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		slog.Error("Failed to load curriculum catalog", "error", err, "path", cfg.CatalogPath)
		os.Exit(1)
	}
	slog.Info("Catalog loaded", "version", cat.Version, "styles", len(cat.ImageStyles))

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

	// Generation collaborators.
	agentCfg := agent.Config{
		TextProvider:        cfg.Models.TextProvider,
		ImageProvider:       cfg.Models.ImageProvider,
		GeminiAPIKey:        cfg.Models.GeminiAPIKey,
		GeminiPromptModel:   cfg.Models.GeminiPromptModel,
		GeminiDescribeModel: cfg.Models.GeminiDescribeModel,
		GeminiDetailsModel:  cfg.Models.GeminiDetailsModel,
		AnthropicAPIKey:     cfg.Models.AnthropicAPIKey,
		AnthropicModel:      cfg.Models.AnthropicModel,
		HFToken:             cfg.Models.HFToken,
		HFImageModel:        cfg.Models.HFImageModel,
		OpenAIAPIKey:        cfg.Models.OpenAIAPIKey,
		OpenAIImageModel:    cfg.Models.OpenAIImageModel,
	}
	models, err := agent.NewModels(agentCfg)
	if err != nil {
		slog.Error("Failed to initialize text models", "error", err)
		os.Exit(1)
	}
	synth, err := agent.NewSynthesizer(agentCfg, cat.Synthesis)
	if err != nil {
		slog.Error("Failed to initialize image synthesizer", "error", err)
		os.Exit(1)
	}

	convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:      cfg.ConversationLog.Enabled,
		Dir:          cfg.ConversationLog.Dir,
		QueueSize:    cfg.ConversationLog.QueueSize,
		MaxOpenFiles: cfg.ConversationLog.MaxOpenFiles,
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
	m := metrics.New()
	manager := lesson.NewManager(lesson.Collaborators{
		Composer:    agent.NewComposer(models.Prompt, cat, logger),
		Synthesizer: synth,
		Describer:   agent.NewDescriber(models.Describe),
		Extractor:   agent.NewExtractor(models.Details, logger),
	}, cat,
		lesson.WithLogger(logger),
		lesson.WithDefaults(cfg.DefaultAttemptLimit, cfg.DefaultDetailsThreshold),
	)
	engine := lesson.NewEngine(manager, agent.NewJudge(models.Judge, logger))
	practice := api.NewPractice(repo, manager, engine, api.PracticeConfig{
		ExportDir: cfg.ExportDir,
		ConvLog:   convLog,
		Metrics:   m,
	})
	hub := live.NewHub(m.LiveConnected)

	// Initialize handlers.
	practiceHandler := api.NewHandler(repo, practice, cat)
	wsHandler := live.NewHandler(repo, practice, hub, cfg.FrontendURL, cfg.IsDevelopment())
	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	r.Get("/health", practiceHandler.Health)
	r.Handle("/metrics", m.Handler())

	// Learner routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		r.Use(limiter.Limit(func(r *http.Request) string {
			return identity.LearnerIDFromContext(r.Context())
		}))
		practiceHandler.RegisterRoutes(r)
		r.Get("/ws/practice", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.PracticePage())

	// Turns wait on image generation, so writes get a long timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start retention worker.
	worker := retention.NewWorker(repo, retention.Config{
		TTL:              cfg.SessionTTL,
		ArchiveRetention: cfg.ArchiveRetention,
	}, practice.Acquire, hub.CloseLearner, m)
	worker.Start(ctx)

	// Start gRPC health server.
	grpcSrv := rpc.NewServer(repo, logger)
	grpcSrv.StartProbing(ctx, 0)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "error", err, "port", cfg.GRPCPort)
		os.Exit(1)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Error("gRPC server failed", "error", err)
		}
	}()

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

	grpcSrv.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully", "conversation_events_dropped", convLog.Dropped())
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return strings.Split(cfg.FrontendURL, ",")
}
