package main

import (
	"context"
	"flag"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/deepcheck/internal/ai"
	"github.com/kdimtricp/deepcheck/internal/analysis"
	"github.com/kdimtricp/deepcheck/internal/config"
	"github.com/kdimtricp/deepcheck/internal/database"
	"github.com/kdimtricp/deepcheck/internal/logger"
	"github.com/kdimtricp/deepcheck/internal/metrics"
	"github.com/kdimtricp/deepcheck/internal/queue"
	"github.com/kdimtricp/deepcheck/internal/storage"
	"github.com/kdimtricp/deepcheck/internal/tracing"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	enqueuePath := flag.String("enqueue", "", "upload this video and publish an analysis request instead of consuming")
	flag.Parse()

	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	if *enqueuePath != "" {
		enqueue(cfg, log, *enqueuePath)
		return
	}

	log.Info("starting deepcheck worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, cfg.OTELEndpoint, "deepcheck-worker")
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	}
	defer tracing.Shutdown(context.Background(), tp)

	aiCfg := cfg.AI()
	if aiCfg.OpenAIAPIKey == "" {
		panic("OPENAI_API_KEY is required")
	}

	db, err := database.NewDB(ctx, cfg.Database(), log)
	fatalOnErr(err, "connect to database")
	defer db.Close()

	if err := db.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

	store, err := cfg.OpenStorage(ctx)
	fatalOnErr(err, "initialize storage")

	extractor, err := ai.NewFrameExtractor(aiCfg.TempDir, aiCfg.MaxFrameDimension, log)
	fatalOnErr(err, "initialize frame extractor")

	pipeline := analysis.NewPipeline(extractor, ai.NewOpenAIClient(aiCfg, log), analysis.PipelineConfig{
		Concurrency: aiCfg.ClassifyConcurrency,
		Quality:     aiCfg.FrameQuality,
	}, log)
	service := analysis.NewService(pipeline, store, database.NewAnalysisRepo(db), log)

	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq")
	defer rmqConn.Close()

	pub, err := queue.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()

	handler := queue.NewHandler(service,
		queue.NewStatusPublisher(pub),
		queue.NewDLQPublisher(pub, cfg.RabbitMQDLQ),
		log,
	)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log)

	consumer, err := queue.NewConsumer(rmqConn, consumerConfig(cfg), handler.Handle, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("worker started, consuming messages", zap.String("queue", cfg.RabbitMQQueue))

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	service.Shutdown()
	consumer.Close()
	log.Info("deepcheck worker stopped")
}

func consumerConfig(cfg *config.Config) queue.ConsumerConfig {
	return queue.ConsumerConfig{
		Exchange:    cfg.RabbitMQExchange,
		Queue:       cfg.RabbitMQQueue,
		StatusQueue: cfg.RabbitMQStatusQueue,
		DLQ:         cfg.RabbitMQDLQ,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
	}
}

// enqueue uploads one local video to the configured storage and publishes a
// request for it. Workers on other hosts only see it with STORAGE_BACKEND=minio.
func enqueue(cfg *config.Config, log *zap.Logger, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if cfg.StorageBackend != "minio" {
		log.Warn("enqueueing to local storage; only workers on this host can read the video",
			zap.String("storage_backend", cfg.StorageBackend))
	}

	f, err := os.Open(path)
	fatalOnErr(err, "open video")
	defer f.Close()

	stat, err := f.Stat()
	fatalOnErr(err, "stat video")

	store, err := cfg.OpenStorage(ctx)
	fatalOnErr(err, "initialize storage")

	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq")
	defer rmqConn.Close()

	pub, err := queue.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")
	defer pub.Close()
	fatalOnErr(pub.Declare(consumerConfig(cfg)), "declare rabbitmq topology")

	name := filepath.Base(path)
	jobID, err := queue.NewEnqueuer(store, pub, log).Enqueue(ctx, f, storage.FileInfo{
		Filename:    name,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		Size:        stat.Size(),
	})
	fatalOnErr(err, "enqueue video")

	fmt.Println(jobID)
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
