package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kdimtricp/deepcheck/internal/config"
	"github.com/kdimtricp/deepcheck/internal/database"
	"github.com/kdimtricp/deepcheck/internal/logger"
	"go.uber.org/zap"
)

func main() {
	limit := flag.Int("limit", 5, "Number of recent analyses to show")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	fmt.Println("Checking Deepfake Analysis Setup")
	fmt.Println("================================")

	if cfg.OpenAIAPIKey == "" {
		fmt.Println("WARNING: OPENAI_API_KEY is not set, uploads will be rejected")
	} else {
		fmt.Println("Vision model configured:")
		fmt.Printf("   - Model:       %s\n", cfg.OpenAIModel)
		fmt.Printf("   - Endpoint:    %s\n", cfg.OpenAIAPIURL)
		fmt.Printf("   - Concurrency: %d\n", cfg.ClassifyConcurrency)
		fmt.Printf("   - Quality:     %.2f\n", cfg.FrameQuality)
	}
	fmt.Println()

	ctx := context.Background()
	db, err := database.NewDB(ctx, cfg.Database(), log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	records, err := database.NewAnalysisRepo(db).List(ctx, *limit)
	if err != nil {
		log.Fatal("failed to list analyses", zap.Error(err))
	}

	if len(records) == 0 {
		fmt.Println("No analyses stored yet. Upload a video to test!")
		return
	}

	fmt.Println("Recent Analyses:")
	fmt.Println("----------------")
	for _, rec := range records {
		r := rec.Result
		fmt.Printf("\n%s  %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Filename)
		fmt.Printf("   Verdict:    %s (%.0f%%)\n", r.Verdict, r.Confidence*100)
		fmt.Printf("   Frames:     %d in %.1fs\n", r.FramesAnalyzed, r.ProcessingTime)

		var issues []string
		fallbacks := 0
		for _, v := range r.FrameVerdicts {
			if v.Fallback {
				fallbacks++
				continue
			}
			issues = append(issues, v.Issues...)
		}
		if fallbacks > 0 {
			fmt.Printf("   Unparsed:   %d frame(s) scored neutral\n", fallbacks)
		}
		if len(issues) > 0 {
			if len(issues) > 3 {
				issues = append(issues[:3], "...")
			}
			fmt.Printf("   Issues:     %s\n", strings.Join(issues, "; "))
		}
	}

	fmt.Printf("\nFound %d recent analyses.\n", len(records))
}
