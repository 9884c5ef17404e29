package analysis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/kdimtricp/deepcheck/internal/ai"
	"github.com/kdimtricp/deepcheck/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Progress checkpoints. Extraction progress is scaled into [0, extractBand].
const (
	extractBand      = 25.0
	analyzingPercent = 30.0
	computingPercent = 85.0
	donePercent      = 100.0
)

// Extractor is the frame sampling capability the pipeline depends on.
// *ai.FrameExtractor implements it.
type Extractor interface {
	OpenVideo(ctx context.Context, r io.Reader, name string) (*ai.VideoSource, error)
	ExtractFrames(ctx context.Context, src *ai.VideoSource, maxFrames int, quality float64, progress ai.ProgressFunc) ([]ai.Frame, error)
}

type PipelineConfig struct {
	Concurrency int
	Quality     float64
}

type Pipeline struct {
	extractor   Extractor
	classifier  ai.FrameClassifier
	concurrency int
	quality     float64
	logger      *zap.Logger
	tracer      trace.Tracer
}

func NewPipeline(extractor Extractor, classifier ai.FrameClassifier, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = ai.DefaultConcurrency
	}
	if cfg.Quality <= 0 || cfg.Quality > 1 {
		cfg.Quality = 0.8
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		extractor:   extractor,
		classifier:  classifier,
		concurrency: cfg.Concurrency,
		quality:     cfg.Quality,
		logger:      logger,
		tracer:      otel.Tracer("analysis"),
	}
}

// reporter forwards progress to an observer, never letting the percentage go backwards.
type reporter struct {
	fn   ProgressFunc
	last float64
}

func (r *reporter) report(step Step, percent float64) {
	if percent < r.last {
		percent = r.last
	}
	if percent > donePercent {
		percent = donePercent
	}
	r.last = percent
	if r.fn != nil {
		r.fn(Progress{Step: step, Percent: percent})
	}
}

// Run samples, classifies and aggregates one video. The video is read from r
// and every temporary resource is released before Run returns. Any error
// aborts the run and no partial result is returned.
func (p *Pipeline) Run(ctx context.Context, r io.Reader, filename string, progress ProgressFunc) (result *ai.AnalysisResult, err error) {
	start := time.Now()
	log := p.logger.With(zap.String("filename", filename))

	ctx, span := p.tracer.Start(ctx, "Pipeline.Run")
	span.SetAttributes(attribute.String("video.filename", filename))
	defer span.End()

	metrics.ActiveAnalyses.Inc()
	defer metrics.ActiveAnalyses.Dec()

	defer func() {
		metrics.AnalysesTotal.WithLabelValues(outcomeOf(err)).Inc()
		metrics.StageDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	rep := &reporter{fn: progress}
	rep.report(StepExtracting, 0)

	frames, duration, err := p.extract(ctx, r, filename, rep)
	if err != nil {
		log.Warn("frame extraction failed", zap.Error(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.Float64("video.duration_seconds", duration),
		attribute.Int("frames.extracted", len(frames)),
	)

	rep.report(StepAnalyzing, analyzingPercent)

	verdicts, err := p.classify(ctx, frames)
	if err != nil {
		log.Error("frame classification failed", zap.Error(err))
		return nil, err
	}

	rep.report(StepComputing, computingPercent)

	aggStart := time.Now()
	result, err = ai.Aggregate(verdicts, len(frames), time.Since(start))
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(aggStart).Seconds())

	rep.report(StepGenerating, donePercent)

	span.SetAttributes(
		attribute.String("analysis.verdict", string(result.Verdict)),
		attribute.Float64("analysis.confidence", result.Confidence),
	)
	log.Info("analysis complete",
		zap.String("verdict", string(result.Verdict)),
		zap.Float64("confidence", result.Confidence),
		zap.Int("frames_analyzed", result.FramesAnalyzed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (p *Pipeline) extract(ctx context.Context, r io.Reader, filename string, rep *reporter) ([]ai.Frame, float64, error) {
	ctx, span := p.tracer.Start(ctx, "extract_frames")
	defer span.End()
	stageStart := time.Now()

	src, err := p.extractor.OpenVideo(ctx, r, filename)
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}
	defer src.Close()

	count := ai.RecommendedFrameCount(src.Duration)
	span.SetAttributes(attribute.Int("frames.requested", count))

	frames, err := p.extractor.ExtractFrames(ctx, src, count, p.quality, func(percent float64) {
		rep.report(StepExtracting, percent/100*extractBand)
	})
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	metrics.StageDuration.WithLabelValues("extract").Observe(time.Since(stageStart).Seconds())
	metrics.FramesExtractedTotal.Add(float64(len(frames)))
	if failed := count - len(frames); failed > 0 {
		metrics.FrameCaptureFailuresTotal.Add(float64(failed))
	}
	return frames, src.Duration, nil
}

func (p *Pipeline) classify(ctx context.Context, frames []ai.Frame) ([]ai.FrameVerdict, error) {
	ctx, span := p.tracer.Start(ctx, "classify_frames")
	defer span.End()
	stageStart := time.Now()

	verdicts, err := ai.ClassifyAll(ctx, p.classifier, frames, p.concurrency)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(verdicts) != len(frames) {
		return nil, fmt.Errorf("classified %d of %d frames", len(verdicts), len(frames))
	}

	fallbacks := 0
	for _, v := range verdicts {
		if v.Fallback {
			fallbacks++
		}
	}
	span.SetAttributes(attribute.Int("frames.fallback", fallbacks))
	if fallbacks > 0 {
		p.logger.Warn("neutral verdicts substituted for unparseable replies",
			zap.Int("fallbacks", fallbacks),
			zap.Int("frames", len(frames)),
		)
	}

	metrics.StageDuration.WithLabelValues("classify").Observe(time.Since(stageStart).Seconds())
	return verdicts, nil
}
