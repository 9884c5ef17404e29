package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/kdimtricp/deepcheck/internal/metrics"
	"github.com/kdimtricp/deepcheck/internal/storage"
	"go.uber.org/zap"
)

type RequestSender interface {
	PublishRequest(ctx context.Context, msg []byte) error
}

// Enqueuer is the producing side of the requests queue: it stores a video
// where workers can read it and announces the job.
type Enqueuer struct {
	store    storage.Storage
	requests RequestSender
	logger   *zap.Logger
}

func NewEnqueuer(store storage.Storage, requests RequestSender, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{store: store, requests: requests, logger: logger}
}

// Enqueue uploads r and publishes an AnalysisRequest for it, returning the
// job id. The upload is removed again if the request cannot be published.
func (e *Enqueuer) Enqueue(ctx context.Context, r io.Reader, info storage.FileInfo) (string, error) {
	key, err := e.store.SaveFile(ctx, r, info)
	if err != nil {
		return "", fmt.Errorf("store video: %w", err)
	}

	req := AnalysisRequest{JobID: uuid.NewString(), VideoKey: key, Filename: info.Filename}
	body, err := json.Marshal(req)
	if err == nil {
		err = e.requests.PublishRequest(ctx, body)
	}
	if err != nil {
		if derr := e.store.DeleteFile(context.WithoutCancel(ctx), key); derr != nil && !errors.Is(derr, storage.ErrNotFound) {
			e.logger.Warn("failed to remove orphaned upload", zap.String("key", key), zap.Error(derr))
		}
		return "", fmt.Errorf("publish request: %w", err)
	}

	metrics.QueueMessagesTotal.WithLabelValues("enqueued").Inc()
	e.logger.Info("analysis enqueued",
		zap.String("job_id", req.JobID),
		zap.String("video_key", key),
		zap.String("filename", info.Filename),
	)
	return req.JobID, nil
}
