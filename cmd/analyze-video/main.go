package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kdimtricp/deepcheck/internal/ai"
	"github.com/kdimtricp/deepcheck/internal/analysis"
	"github.com/kdimtricp/deepcheck/internal/config"
	"github.com/kdimtricp/deepcheck/internal/logger"
	"go.uber.org/zap"
)

func main() {
	var (
		file        = flag.String("file", "", "Path to the video to analyze")
		concurrency = flag.Int("concurrency", 0, "Frames classified at once (default CLASSIFY_CONCURRENCY)")
		quality     = flag.Float64("quality", 0, "JPEG quality in (0, 1] (default FRAME_QUALITY)")
		quiet       = flag.Bool("quiet", false, "Do not print progress")
	)
	flag.Parse()

	if *file == "" {
		fmt.Fprintln(os.Stderr, "Please provide a video with -file")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fatal("init logger", err)
	}
	defer log.Sync()

	aiCfg := cfg.AI()
	if aiCfg.OpenAIAPIKey == "" {
		fmt.Fprintln(os.Stderr, "OPENAI_API_KEY is not set")
		os.Exit(1)
	}
	if *concurrency > 0 {
		aiCfg.ClassifyConcurrency = *concurrency
	}
	if *quality > 0 {
		aiCfg.FrameQuality = *quality
	}

	video, err := os.Open(*file)
	if err != nil {
		fatal("open video", err)
	}
	defer video.Close()

	extractor, err := ai.NewFrameExtractor(aiCfg.TempDir, aiCfg.MaxFrameDimension, log)
	if err != nil {
		fatal("initialize frame extractor", err)
	}

	pipeline := analysis.NewPipeline(extractor, ai.NewOpenAIClient(aiCfg, log), analysis.PipelineConfig{
		Concurrency: aiCfg.ClassifyConcurrency,
		Quality:     aiCfg.FrameQuality,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Run(ctx, video, filepath.Base(*file), func(p analysis.Progress) {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%-10s %5.1f%%\n", p.Step, p.Percent)
		}
	})
	if err != nil {
		log.Error("analysis failed", zap.String("file", *file), zap.Error(err))
		fmt.Fprintln(os.Stderr, analysis.UserMessage(err))
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fatal("encode result", err)
	}
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
