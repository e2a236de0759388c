// chatbridge - dual-backend chat adapter server
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/ashureev/chatbridge/internal/agentapi"
	"github.com/ashureev/chatbridge/internal/api"
	"github.com/ashureev/chatbridge/internal/auth"
	"github.com/ashureev/chatbridge/internal/authsync"
	"github.com/ashureev/chatbridge/internal/backendsync"
	"github.com/ashureev/chatbridge/internal/chatstore"
	"github.com/ashureev/chatbridge/internal/config"
	"github.com/ashureev/chatbridge/internal/dispatch"
	"github.com/ashureev/chatbridge/internal/identity"
	"github.com/ashureev/chatbridge/internal/middleware"
	"github.com/ashureev/chatbridge/internal/notify"
	"github.com/ashureev/chatbridge/internal/restapi"
	"github.com/ashureev/chatbridge/internal/rpc"
	"github.com/ashureev/chatbridge/internal/service"
	"github.com/ashureev/chatbridge/internal/store"
)

func main() {
	envFile := flag.String("env-file", ".env", "path to a dotenv file")
	port := flag.String("port", "", "listen port (overrides PORT)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", *envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	slog.Info("Starting server", "port", cfg.Port, "backend", cfg.Mode(), "dev", cfg.IsDevelopment())

	tokens, err := store.NewSQLite(cfg.DBPath, logger)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tokens.Close(); closeErr != nil {
			slog.Error("Failed to close token store", "error", closeErr)
		}
	}()

	if err := tokens.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	hub := authsync.NewHub(cfg.FrontendURL, cfg.IsDevelopment(), logger)
	notifier := notify.New(cfg.AuthNotifyDebounce, logger, notify.WithSink(hub))

	restClient := restapi.NewClient(cfg.CustomAPIBaseURL, tokens,
		restapi.WithTimeout(cfg.RequestTimeout),
		restapi.WithNotifier(notifier),
		restapi.WithLogger(logger),
	)

	// The local backend is only dialed when it serves requests.
	var caller rpc.Caller
	if cfg.Mode() == config.BackendLocal {
		rpcCfg := rpc.DefaultClientConfig(cfg.LocalRPCAddr)
		rpcCfg.RequestTimeout = cfg.RequestTimeout
		rpcClient, err := rpc.NewClient(rpcCfg, notifier, logger)
		if err != nil {
			slog.Error("Failed to connect to local backend", "error", err, "address", cfg.LocalRPCAddr)
			os.Exit(1)
		}
		defer rpcClient.Close()
		caller = rpcClient
		slog.Info("Local backend connected", "address", cfg.LocalRPCAddr)
	}

	policy := dispatch.NewPolicy(dispatch.ModeFromConfig(cfg), tokens, logger)
	backends := service.NewBackends(policy, restClient, caller, logger)
	sessions := service.NewSessionService(backends)
	messages := service.NewMessageService(backends)
	aiChat := service.NewAIChatService(backends)
	topics := service.NewTopicService(backends)
	threads := service.NewThreadService(backends)
	plugins := service.NewPluginService(backends)
	knowledgeBases := service.NewKnowledgeBaseService(backends)
	global := service.NewGlobalService(backends)
	users := service.NewUserService(backends)

	authSvc := auth.NewService(restClient, tokens, logger)
	agents := agentapi.New(restClient)

	chat := chatstore.New(sessions, logger)
	external := cfg.Mode() == config.BackendExternal
	reconciler := backendsync.New(agents, chat, external, logger)
	chat.OnCreate(reconciler.SyncLocalToRemoteBestEffort)
	chat.OnRemove(reconciler.ForgetBestEffort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher := authsync.NewWatcher(authSvc, tokens, cfg.AuthRecheckInterval, cfg.StoreWatchInterval, logger)
	watcher.OnChange(hub.PublishState)
	watcher.OnChange(func(s authsync.State) {
		if !s.SignedIn {
			reconciler.Reset()
			return
		}
		if external && !reconciler.IsSynced() {
			go runBackfill(ctx, reconciler)
		}
	})
	watcher.Start(ctx)

	// Initialize handlers.
	base := api.NewHandler(cfg, logger)
	healthHandler := api.NewHealthHandler(base, tokens)
	authHandler := api.NewAuthHandler(base, authSvc)
	sessionHandler := api.NewSessionHandler(base, chat, sessions, messages, aiChat, reconciler)
	topicHandler := api.NewTopicHandler(base, topics, threads)
	messageHandler := api.NewMessageHandler(base, messages, aiChat)
	catalogHandler := api.NewCatalogHandler(base, plugins, knowledgeBases, global)
	userHandler := api.NewUserHandler(base, users)
	agentHandler := api.NewAgentHandler(base, agents, external)
	syncHandler := api.NewBackendSyncHandler(base, reconciler)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL)))
	r.Use(identity.Middleware)

	healthHandler.RegisterRoutes(r)
	authHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)
	topicHandler.RegisterRoutes(r)
	messageHandler.RegisterRoutes(r)
	catalogHandler.RegisterRoutes(r)
	userHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)
	syncHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/auth", hub.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket and long chat turns
		IdleTimeout:  120 * time.Second,
	}

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

// runBackfill mirrors remote agents into local sessions once per sign-in.
func runBackfill(ctx context.Context, rec *backendsync.Reconciler) {
	report, err := rec.BackfillFromRemote(ctx)
	if err != nil {
		slog.Warn("Backend backfill failed", "error", err)
		return
	}
	slog.Info("Backend backfill complete",
		"listed", report.Listed,
		"adopted", report.Adopted,
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed,
	)
}
