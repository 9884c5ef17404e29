package analysis

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/deepcheck/internal/ai"
	"github.com/kdimtricp/deepcheck/internal/database"
	"github.com/kdimtricp/deepcheck/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	release chan struct{}
	err     error
	result  *ai.AnalysisResult

	mu   sync.Mutex
	read []string
}

func (f *fakeRunner) Run(ctx context.Context, r io.Reader, filename string, progress ProgressFunc) (*ai.AnalysisResult, error) {
	data, _ := io.ReadAll(r)
	f.mu.Lock()
	f.read = append(f.read, string(data))
	f.mu.Unlock()

	progress(Progress{Step: StepExtracting, Percent: 10})

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}
	progress(Progress{Step: StepAnalyzing, Percent: 30})
	progress(Progress{Step: StepComputing, Percent: 85})
	progress(Progress{Step: StepGenerating, Percent: 100})
	return f.result, nil
}

type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*database.AnalysisRecord
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]*database.AnalysisRecord)}
}

func (m *memoryRepo) Create(ctx context.Context, rec *database.AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.CreatedAt = time.Now().UTC()
	m.records[rec.ID] = rec
	return nil
}

func (m *memoryRepo) GetByID(ctx context.Context, id string) (*database.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return rec, nil
}

func (m *memoryRepo) List(ctx context.Context, limit int) ([]*database.AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*database.AnalysisRecord{}
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return database.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *memoryRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestService(t *testing.T, runner Runner, repo Repository) (*Service, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	return NewService(runner, store, repo, zap.NewNop()), dir
}

func drain(t *testing.T, ch <-chan SessionUpdate) []SessionUpdate {
	t.Helper()
	var updates []SessionUpdate
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			if !ok {
				return updates
			}
			updates = append(updates, u)
		case <-timeout:
			t.Fatal("timed out waiting for updates")
		}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for run to finish")
	}
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

var sampleResult = &ai.AnalysisResult{
	Confidence:     0.8,
	Verdict:        ai.VerdictReal,
	FramesAnalyzed: 4,
	FrameVerdicts:  []ai.FrameVerdict{{FrameIndex: 0}, {FrameIndex: 1}, {FrameIndex: 2}, {FrameIndex: 3}},
}

func TestServiceCompletes(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{}), result: sampleResult}
	repo := newMemoryRepo()
	svc, dir := newTestService(t, runner, repo)

	session, err := svc.Start(context.Background(), "clip.mp4", strings.NewReader("bytes"), storage.FileInfo{ContentType: "video/mp4"})
	require.NoError(t, err)

	updates, unsubscribe, err := svc.Subscribe(session.ID)
	require.NoError(t, err)
	defer unsubscribe()

	close(runner.release)
	got := drain(t, updates)
	waitDone(t, session)

	require.NotEmpty(t, got)
	assert.Equal(t, UpdateProgress, got[0].Type)
	last := got[len(got)-1]
	assert.Equal(t, UpdateComplete, last.Type)
	assert.Equal(t, sampleResult, last.Data)

	snap := session.Snapshot()
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, StepGenerating, snap.Step)
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, sampleResult, snap.Result)
	assert.NotNil(t, snap.CompletedAt)

	assert.Equal(t, []string{"bytes"}, runner.read)
	assert.Equal(t, 1, repo.count())
	stored, err := repo.GetByID(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, "clip.mp4", stored.Filename)

	assertDirEmpty(t, dir)
}

func TestServiceFailureIsNotPersisted(t *testing.T) {
	runner := &fakeRunner{err: &ai.TransportError{StatusCode: 429, Kind: ai.TransportRateLimited}}
	repo := newMemoryRepo()
	svc, dir := newTestService(t, runner, repo)

	session, err := svc.Start(context.Background(), "clip.mp4", strings.NewReader("bytes"), storage.FileInfo{})
	require.NoError(t, err)
	waitDone(t, session)

	snap := session.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Nil(t, snap.Result)
	assert.Contains(t, snap.Error, "rate limiting")
	assert.Zero(t, repo.count())
	assertDirEmpty(t, dir)

	// Subscribing after the fact still yields the terminal update.
	updates, _, err := svc.Subscribe(session.ID)
	require.NoError(t, err)
	got := drain(t, updates)
	require.Len(t, got, 2)
	assert.Equal(t, UpdateError, got[1].Type)
}

func TestServiceReset(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{}), result: sampleResult}
	repo := newMemoryRepo()
	svc, dir := newTestService(t, runner, repo)

	session, err := svc.Start(context.Background(), "clip.mp4", strings.NewReader("bytes"), storage.FileInfo{})
	require.NoError(t, err)

	updates, _, err := svc.Subscribe(session.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Reset(ctx, session.ID))

	got := drain(t, updates)
	assert.Equal(t, UpdateCancelled, got[len(got)-1].Type)

	_, ok := svc.Get(session.ID)
	assert.False(t, ok)
	assert.Equal(t, StatusCancelled, session.Snapshot().Status)
	assert.Zero(t, repo.count())
	assertDirEmpty(t, dir)

	assert.ErrorIs(t, svc.Reset(ctx, session.ID), ErrSessionNotFound)
}

func TestServiceResetRemovesStoredResult(t *testing.T) {
	runner := &fakeRunner{release: make(chan struct{}), result: sampleResult}
	repo := newMemoryRepo()
	svc, _ := newTestService(t, runner, repo)

	session, err := svc.Start(context.Background(), "clip.mp4", strings.NewReader("bytes"), storage.FileInfo{})
	require.NoError(t, err)
	close(runner.release)
	waitDone(t, session)
	require.Equal(t, 1, repo.count())

	ctx := context.Background()
	require.NoError(t, svc.Reset(ctx, session.ID))

	_, err = svc.Lookup(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Zero(t, repo.count())

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	assert.ErrorIs(t, svc.Reset(ctx, session.ID), ErrSessionNotFound)
}

func TestServiceResetStoredOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(t, &fakeRunner{}, repo)

	id := uuid.NewString()
	require.NoError(t, repo.Create(context.Background(), &database.AnalysisRecord{ID: id, Filename: "old.mp4"}))

	require.NoError(t, svc.Reset(context.Background(), id))
	assert.Zero(t, repo.count())
}

func TestServiceSessionsAreIndependent(t *testing.T) {
	runner := &fakeRunner{result: sampleResult}
	svc, _ := newTestService(t, runner, nil)

	var sessions []*Session
	for i := 0; i < 4; i++ {
		s, err := svc.Start(context.Background(), "clip.mp4", strings.NewReader("bytes"), storage.FileInfo{})
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	svc.Wait()

	ids := map[string]bool{}
	for _, s := range sessions {
		ids[s.ID] = true
		assert.Equal(t, StatusComplete, s.Snapshot().Status)
	}
	assert.Len(t, ids, 4)
}

func TestServiceLookup(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(t, &fakeRunner{result: sampleResult}, repo)
	ctx := context.Background()

	_, err := svc.Lookup(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, repo.Create(ctx, &database.AnalysisRecord{ID: "stored-id", Filename: "old.mp4", Result: sampleResult}))

	snap, err := svc.Lookup(ctx, "stored-id")
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, snap.Status)
	assert.Equal(t, "old.mp4", snap.Filename)
	assert.Equal(t, sampleResult, snap.Result)

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestServiceWithoutRepository(t *testing.T) {
	svc, _ := newTestService(t, &fakeRunner{result: sampleResult}, nil)
	ctx := context.Background()

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = svc.Lookup(ctx, "anything")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = svc.Subscribe("anything")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

type failingStorage struct{ storage.Storage }

func (failingStorage) SaveFile(ctx context.Context, r io.Reader, info storage.FileInfo) (string, error) {
	return "", errors.New("disk full")
}

func TestServiceStartStorageFailure(t *testing.T) {
	svc := NewService(&fakeRunner{}, failingStorage{}, nil, nil)

	_, err := svc.Start(context.Background(), "clip.mp4", strings.NewReader("bytes"), storage.FileInfo{})
	assert.Error(t, err)
}

func TestServiceStartStoredKeepsObject(t *testing.T) {
	runner := &fakeRunner{result: sampleResult}
	svc, dir := newTestService(t, runner, nil)

	require.NoError(t, os.WriteFile(dir+"/queued.mp4", []byte("queued bytes"), 0644))

	session, err := svc.StartStored("job-1", "queued.mp4", "queued.mp4")
	require.NoError(t, err)
	assert.Equal(t, "job-1", session.ID)
	waitDone(t, session)

	assert.Equal(t, StatusComplete, session.Snapshot().Status)
	_, err = os.Stat(dir + "/queued.mp4")
	assert.NoError(t, err)

	_, err = svc.StartStored("job-1", "queued.mp4", "queued.mp4")
	assert.Error(t, err)
}
