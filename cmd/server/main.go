package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/deepcheck/internal/ai"
	"github.com/kdimtricp/deepcheck/internal/analysis"
	"github.com/kdimtricp/deepcheck/internal/api"
	"github.com/kdimtricp/deepcheck/internal/config"
	"github.com/kdimtricp/deepcheck/internal/database"
	"github.com/kdimtricp/deepcheck/internal/logger"
	"github.com/kdimtricp/deepcheck/internal/tracing"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.InitTracer(ctx, cfg.OTELEndpoint, "deepcheck-server")
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background(), tp)

	store, err := cfg.OpenStorage(ctx)
	fatalOnErr(err, "initialize storage")

	db, err := database.NewDB(ctx, cfg.Database(), log)
	fatalOnErr(err, "initialize database")
	defer db.Close()

	log.Info("running database migrations", zap.String("path", cfg.MigrationsPath))
	fatalOnErr(db.RunMigrations(cfg.MigrationsPath), "run migrations")

	aiCfg := cfg.AI()
	oracleConfigured := aiCfg.OpenAIAPIKey != ""

	var runner analysis.Runner = unavailableRunner{}
	if oracleConfigured {
		extractor, err := ai.NewFrameExtractor(aiCfg.TempDir, aiCfg.MaxFrameDimension, log)
		fatalOnErr(err, "initialize frame extractor")

		runner = analysis.NewPipeline(extractor, ai.NewOpenAIClient(aiCfg, log), analysis.PipelineConfig{
			Concurrency: aiCfg.ClassifyConcurrency,
			Quality:     aiCfg.FrameQuality,
		}, log)
	} else {
		log.Warn("OPENAI_API_KEY is not set, uploads will be rejected")
	}

	service := analysis.NewService(runner, store, database.NewAnalysisRepo(db), log)

	app := &api.App{
		Service:          service,
		DB:               db,
		MaxUploadSize:    cfg.MaxUploadSize,
		OracleConfigured: oracleConfigured,
		Logger:           log,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("storage", cfg.StorageBackend),
			zap.String("database", db.Type()),
			zap.Int64("max_upload_size", cfg.MaxUploadSize),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	service.Shutdown()
	log.Info("server stopped")
}

// unavailableRunner stands in for the pipeline when no oracle is configured.
// The API rejects uploads before it is ever reached.
type unavailableRunner struct{}

func (unavailableRunner) Run(ctx context.Context, r io.Reader, filename string, progress analysis.ProgressFunc) (*ai.AnalysisResult, error) {
	return nil, errors.New("analysis service is not configured")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
