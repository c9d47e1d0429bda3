package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ayush/research-ai-agent/reportgen/internal/config"
	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
	"github.com/ayush/research-ai-agent/reportgen/internal/logging"
	"github.com/ayush/research-ai-agent/reportgen/internal/middleware"
	"github.com/ayush/research-ai-agent/reportgen/internal/report"
	"github.com/ayush/research-ai-agent/reportgen/internal/research"
	"github.com/ayush/research-ai-agent/reportgen/internal/search"
	"github.com/ayush/research-ai-agent/reportgen/internal/store"
	"github.com/ayush/research-ai-agent/reportgen/internal/streaming"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx := context.Background()

	// ── PostgreSQL ────────────────────────────────────────────
	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	defer pgPool.Close()
	ledger := store.NewRunLedger(pgPool)
	if err := ledger.Migrate(ctx); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}

	// ── MongoDB ──────────────────────────────────────────────
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return fmt.Errorf("mongo connect: %w", err)
	}
	defer mongoClient.Disconnect(ctx)
	reports := store.NewReportStore(mongoClient.Database(cfg.MongoDB))

	// ── Redis ────────────────────────────────────────────────
	rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connect: %w", err)
	}
	defer rdb.Close()
	snapshots := store.NewSnapshotCache(rdb, cfg.SnapshotTTL)

	// ── MinIO ────────────────────────────────────────────────
	exports, err := store.NewExportStore(
		ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
		cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL,
	)
	if err != nil {
		return fmt.Errorf("minio connect: %w", err)
	}

	// ── LLM + search ─────────────────────────────────────────
	completer, err := llm.New(llm.Settings{
		Provider:    cfg.LLMProvider,
		Model:       cfg.LLMModel,
		APIKey:      cfg.LLMAPIKey,
		BaseURL:     cfg.LLMBaseURL,
		Temperature: cfg.LLMTemperature,
	})
	if err != nil {
		return err
	}
	searchClient := search.NewClient(cfg.SearchServiceURL, cfg.SearchTimeout)
	aggregator := search.NewAggregator(searchClient, cfg.SearchMaxSegments, logger.Named("search"))

	// ── Service ──────────────────────────────────────────────
	svc := research.NewService(research.Deps{
		LLM:       completer,
		Evidence:  aggregator,
		Model:     report.ModelSettings{Model: cfg.LLMModel, Temperature: cfg.LLMTemperature},
		Hub:       streaming.NewHub(1024),
		Reports:   reports,
		Files:     exports,
		Ledger:    ledger,
		Snapshots: snapshots,
		Logger:    logger.Named("report"),
	})
	defer svc.Close()
	reportHandler := research.NewHandler(svc, logger.Named("http"))

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger.Named("access")))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Last-Event-ID", middleware.UserHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/reports", func(r chi.Router) {
		r.Use(middleware.RequireUser)
		reportHandler.Routes(r)
	})

	// ── Server ───────────────────────────────────────────────
	// No WriteTimeout: event streams stay open for the whole run.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("report service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimw.GetReqID(r.Context())))
		})
	}
}
