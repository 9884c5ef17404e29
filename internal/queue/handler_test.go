package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kdimtricp/deepcheck/internal/ai"
	"github.com/kdimtricp/deepcheck/internal/analysis"
	"github.com/kdimtricp/deepcheck/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	block bool
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, r io.Reader, filename string, progress analysis.ProgressFunc) (*ai.AnalysisResult, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ai.AnalysisResult{Verdict: ai.VerdictAIGenerated, Confidence: 0.72, FramesAnalyzed: 5}, nil
}

type recorder struct {
	mu      sync.Mutex
	status  [][]byte
	dlq     [][]byte
	reasons []string
	err     error
}

func (r *recorder) PublishStatus(ctx context.Context, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = append(r.status, msg)
	return r.err
}

func (r *recorder) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dlq = append(r.dlq, msg)
	r.reasons = append(r.reasons, reason)
	return r.err
}

func (r *recorder) lastStatus(t *testing.T) StatusMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.status)
	var msg StatusMessage
	require.NoError(t, json.Unmarshal(r.status[len(r.status)-1], &msg))
	return msg
}

func setup(t *testing.T, runner *fakeRunner) (*Handler, *recorder, string) {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	key, err := store.SaveFile(context.Background(), strings.NewReader("video"), storage.FileInfo{Filename: "clip.mp4"})
	require.NoError(t, err)

	svc := analysis.NewService(runner, store, nil, zap.NewNop())
	t.Cleanup(svc.Shutdown)

	rec := &recorder{}
	return NewHandler(svc, rec, rec, zap.NewNop()), rec, key
}

func request(t *testing.T, jobID, key string) []byte {
	t.Helper()
	body, err := json.Marshal(AnalysisRequest{JobID: jobID, VideoKey: key, Filename: "clip.mp4"})
	require.NoError(t, err)
	return body
}

func TestHandleCompleted(t *testing.T) {
	h, rec, key := setup(t, &fakeRunner{})
	jobID := uuid.New().String()

	require.NoError(t, h.Handle(context.Background(), request(t, jobID, key)))

	msg := rec.lastStatus(t)
	assert.Equal(t, StatusMessage{
		JobID:          jobID,
		Status:         "complete",
		Verdict:        ai.VerdictAIGenerated,
		Confidence:     0.72,
		FramesAnalyzed: 5,
	}, msg)
	assert.Empty(t, rec.dlq)
}

func TestHandleFailedAnalysis(t *testing.T) {
	h, rec, key := setup(t, &fakeRunner{err: &ai.TransportError{StatusCode: 429, Kind: ai.TransportRateLimited}})
	jobID := uuid.New().String()

	require.NoError(t, h.Handle(context.Background(), request(t, jobID, key)))

	msg := rec.lastStatus(t)
	assert.Equal(t, "failed", msg.Status)
	assert.Contains(t, msg.Error, "rate limiting")
	assert.Empty(t, msg.Verdict)
}

func TestHandleMissingObject(t *testing.T) {
	h, rec, _ := setup(t, &fakeRunner{})

	require.NoError(t, h.Handle(context.Background(), request(t, uuid.New().String(), "missing.mp4")))

	msg := rec.lastStatus(t)
	assert.Equal(t, "failed", msg.Status)
	assert.NotEmpty(t, msg.Error)
}

func TestHandleCancelledOnShutdown(t *testing.T) {
	h, rec, key := setup(t, &fakeRunner{block: true})
	jobID := uuid.New().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Handle(ctx, request(t, jobID, key)) }()

	cancel()
	require.NoError(t, <-done)

	msg := rec.lastStatus(t)
	assert.Equal(t, jobID, msg.JobID)
	assert.Equal(t, "cancelled", msg.Status)
}

func TestHandleMalformedGoesToDLQ(t *testing.T) {
	h, rec, key := setup(t, &fakeRunner{})

	tests := []struct {
		name   string
		body   []byte
		reason string
	}{
		{"not json", []byte("{oops"), "unmarshal_error"},
		{"missing key", request(t, uuid.New().String(), ""), "missing video_key"},
		{"bad job id", request(t, "job-1", key), "invalid job_id"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, h.Handle(context.Background(), tt.body))
			require.Len(t, rec.dlq, i+1)
			assert.Equal(t, tt.body, rec.dlq[i])
			assert.Contains(t, rec.reasons[i], tt.reason)
		})
	}
	assert.Empty(t, rec.status)
}

func TestHandlePublishFailure(t *testing.T) {
	h, rec, key := setup(t, &fakeRunner{})
	rec.err = errors.New("channel closed")

	err := h.Handle(context.Background(), request(t, uuid.New().String(), key))
	assert.ErrorContains(t, err, "publish status")
}

func TestDecodeRequestDefaultsFilename(t *testing.T) {
	body := []byte(`{"job_id":"` + uuid.New().String() + `","video_key":"abc.mp4"}`)

	req, reason := decodeRequest(body)
	assert.Empty(t, reason)
	assert.Equal(t, "abc.mp4", req.Filename)
}
