package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/deepcheck/internal/analysis"
	"github.com/kdimtricp/deepcheck/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const cancelTimeout = 10 * time.Second

type StatusSender interface {
	PublishStatus(ctx context.Context, msg []byte) error
}

type DeadLetterSender interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}

// Analyzer runs stored videos. *analysis.Service implements it.
type Analyzer interface {
	StartStored(id, filename, key string) (*analysis.Session, error)
	Reset(ctx context.Context, id string) error
}

type Handler struct {
	analyzer Analyzer
	status   StatusSender
	dlq      DeadLetterSender
	logger   *zap.Logger
}

func NewHandler(analyzer Analyzer, status StatusSender, dlq DeadLetterSender, logger *zap.Logger) *Handler {
	return &Handler{analyzer: analyzer, status: status, dlq: dlq, logger: logger}
}

// Handle runs one analysis request to completion and publishes its outcome.
// It returns an error only when the outcome could not be published.
func (h *Handler) Handle(ctx context.Context, body []byte) error {
	ctx, span := otel.Tracer("queue").Start(ctx, "Handler.Handle")
	defer span.End()

	req, reason := decodeRequest(body)
	if reason != "" {
		h.logger.Error("rejecting analysis request", zap.String("reason", reason), zap.ByteString("body", body))
		metrics.QueueMessagesTotal.WithLabelValues("dead_lettered").Inc()
		if err := h.dlq.PublishToDLQ(ctx, body, reason); err != nil {
			return fmt.Errorf("publish to dlq: %w", err)
		}
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", req.JobID),
		attribute.String("job.video_key", req.VideoKey),
	)
	log := h.logger.With(zap.String("job_id", req.JobID), zap.String("video_key", req.VideoKey))

	status := h.analyze(ctx, req, log)
	metrics.QueueMessagesTotal.WithLabelValues(status.Status).Inc()

	msg, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	// Publish even when ctx is done so shutdowns still report cancellation.
	if err := h.status.PublishStatus(context.WithoutCancel(ctx), msg); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}

	log.Info("analysis request handled", zap.String("status", status.Status))
	return nil
}

func (h *Handler) analyze(ctx context.Context, req AnalysisRequest, log *zap.Logger) StatusMessage {
	session, err := h.analyzer.StartStored(req.JobID, req.Filename, req.VideoKey)
	if err != nil {
		log.Error("failed to start analysis", zap.Error(err))
		return StatusMessage{JobID: req.JobID, Status: string(analysis.StatusFailed), Error: analysis.UserMessage(err)}
	}

	select {
	case <-session.Done():
	case <-ctx.Done():
		log.Warn("worker stopping, cancelling analysis")
		cancelCtx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		defer cancel()
		if err := h.analyzer.Reset(cancelCtx, req.JobID); err != nil && !errors.Is(err, analysis.ErrSessionNotFound) {
			log.Warn("failed to cancel analysis", zap.Error(err))
		}
	}

	return statusOf(req.JobID, session.Snapshot())
}

func decodeRequest(body []byte) (AnalysisRequest, string) {
	var req AnalysisRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return req, "unmarshal_error: " + err.Error()
	}
	if req.VideoKey == "" {
		return req, "missing video_key"
	}
	if _, err := uuid.Parse(req.JobID); err != nil {
		return req, "invalid job_id"
	}
	if req.Filename == "" {
		req.Filename = req.VideoKey
	}
	return req, ""
}

func statusOf(jobID string, snap analysis.Snapshot) StatusMessage {
	msg := StatusMessage{JobID: jobID, Status: string(snap.Status), Error: snap.Error}
	if snap.Status == analysis.StatusRunning {
		// Reset timed out before the run stopped.
		msg.Status = string(analysis.StatusCancelled)
	}
	if snap.Result != nil {
		msg.Verdict = snap.Result.Verdict
		msg.Confidence = snap.Result.Confidence
		msg.FramesAnalyzed = snap.Result.FramesAnalyzed
	}
	return msg
}
