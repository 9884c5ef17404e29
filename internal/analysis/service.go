package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kdimtricp/deepcheck/internal/ai"
	"github.com/kdimtricp/deepcheck/internal/database"
	"github.com/kdimtricp/deepcheck/internal/storage"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	subscriberBuffer = 32
	// Finished sessions stay addressable in memory for this long; persisted
	// results remain reachable through Lookup afterwards.
	sessionRetention = 30 * time.Minute
)

// Runner executes one analysis. *Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, r io.Reader, filename string, progress ProgressFunc) (*ai.AnalysisResult, error)
}

// Repository stores completed analyses. *database.AnalysisRepo implements it.
type Repository interface {
	Create(ctx context.Context, rec *database.AnalysisRecord) error
	GetByID(ctx context.Context, id string) (*database.AnalysisRecord, error)
	List(ctx context.Context, limit int) ([]*database.AnalysisRecord, error)
	Delete(ctx context.Context, id string) error
}

// Service is the asynchronous entry point: it accepts uploads, runs each one
// on its own goroutine and fans progress out to subscribers.
type Service struct {
	runner     Runner
	storage    storage.Storage
	repo       Repository
	logger     *zap.Logger
	sessions   map[string]*Session
	sessionsMu sync.RWMutex
	wg         sync.WaitGroup
}

// NewService wires a Service. repo may be nil, in which case results are
// kept in memory only.
func NewService(runner Runner, store storage.Storage, repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		runner:   runner,
		storage:  store,
		repo:     repo,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Start stores the upload and launches its analysis. It returns as soon as the
// bytes are stored; progress and the result arrive through Subscribe and Get.
func (s *Service) Start(ctx context.Context, filename string, r io.Reader, info storage.FileInfo) (*Session, error) {
	info.Filename = filename
	key, err := s.storage.SaveFile(ctx, r, info)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	session := &Session{
		ID:         uuid.New().String(),
		Filename:   filename,
		StorageKey: key,
		StartedAt:  time.Now().UTC(),
		status:     StatusRunning,
		progress:   Progress{Step: StepExtracting},
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	s.sessionsMu.Lock()
	s.sessions[session.ID] = session
	s.sessionsMu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, session, true)

	return session, nil
}

// StartStored analyses an object that is already in storage, for callers
// such as the queue worker that received a key rather than bytes. The object
// is left in place afterwards.
func (s *Service) StartStored(id, filename, key string) (*Session, error) {
	if id == "" {
		id = uuid.New().String()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	session := &Session{
		ID:         id,
		Filename:   filename,
		StorageKey: key,
		StartedAt:  time.Now().UTC(),
		status:     StatusRunning,
		progress:   Progress{Step: StepExtracting},
		done:       make(chan struct{}),
		cancel:     cancel,
	}

	s.sessionsMu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.sessionsMu.Unlock()
		cancel()
		return nil, fmt.Errorf("session %s already running", id)
	}
	s.sessions[id] = session
	s.sessionsMu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, session, false)

	return session, nil
}

func (s *Service) Get(id string) (*Session, bool) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	session, exists := s.sessions[id]
	return session, exists
}

// Lookup returns the live session snapshot, or the stored result when the
// session is gone (for example after a restart).
func (s *Service) Lookup(ctx context.Context, id string) (Snapshot, error) {
	if session, ok := s.Get(id); ok {
		return session.Snapshot(), nil
	}
	if s.repo == nil {
		return Snapshot{}, ErrSessionNotFound
	}

	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return Snapshot{}, ErrSessionNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}

	completed := rec.CreatedAt
	return Snapshot{
		ID:          rec.ID,
		Filename:    rec.Filename,
		Status:      StatusComplete,
		Step:        StepGenerating,
		Progress:    donePercent,
		Result:      rec.Result,
		StartedAt:   rec.CreatedAt,
		CompletedAt: &completed,
	}, nil
}

// Subscribe returns a channel of updates for the session and a function that
// detaches it. The channel is closed when the run finishes. A session that
// has already finished yields its terminal update and a closed channel.
func (s *Service) Subscribe(id string) (<-chan SessionUpdate, func(), error) {
	session, ok := s.Get(id)
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	ch := make(chan SessionUpdate, subscriberBuffer)

	session.mu.Lock()
	defer session.mu.Unlock()

	ch <- SessionUpdate{Type: UpdateProgress, Data: session.progress}

	if session.status != StatusRunning {
		ch <- terminalUpdate(session)
		close(ch)
		return ch, func() {}, nil
	}

	session.subscribers = append(session.subscribers, ch)
	unsubscribe := func() {
		session.mu.Lock()
		defer session.mu.Unlock()
		for i, sub := range session.subscribers {
			if sub == ch {
				session.subscribers = append(session.subscribers[:i], session.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe, nil
}

// Reset cancels an in-flight run, deletes its upload, forgets the session
// and removes any stored result, returning the id to idle.
func (s *Service) Reset(ctx context.Context, id string) error {
	s.sessionsMu.Lock()
	session, exists := s.sessions[id]
	if exists {
		delete(s.sessions, id)
	}
	s.sessionsMu.Unlock()

	if exists {
		s.logger.Info("resetting analysis", zap.String("analysis_id", id))
		session.cancel()

		select {
		case <-session.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if s.repo == nil {
		if !exists {
			return ErrSessionNotFound
		}
		return nil
	}

	err := s.repo.Delete(ctx, id)
	switch {
	case errors.Is(err, database.ErrNotFound):
		if !exists {
			return ErrSessionNotFound
		}
		return nil
	case err != nil:
		return fmt.Errorf("deleting stored analysis: %w", err)
	}
	return nil
}

func (s *Service) History(ctx context.Context, limit int) ([]*database.AnalysisRecord, error) {
	if s.repo == nil {
		return []*database.AnalysisRecord{}, nil
	}
	return s.repo.List(ctx, limit)
}

// Wait blocks until every run started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all in-flight runs and waits for them.
func (s *Service) Shutdown() {
	s.sessionsMu.RLock()
	for _, session := range s.sessions {
		session.cancel()
	}
	s.sessionsMu.RUnlock()
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context, session *Session, ownsUpload bool) {
	defer s.wg.Done()
	defer close(session.done)
	defer session.cancel()

	log := s.logger.With(zap.String("analysis_id", session.ID))
	log.Info("analysis started", zap.String("filename", session.Filename))

	if ownsUpload {
		defer func() {
			if err := s.storage.DeleteFile(context.Background(), session.StorageKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
				log.Warn("failed to delete upload", zap.String("key", session.StorageKey), zap.Error(err))
			}
		}()
	}

	result, err := s.execute(ctx, session)
	if err == nil && s.repo != nil {
		rec := &database.AnalysisRecord{ID: session.ID, Filename: session.Filename, Result: result}
		if perr := s.repo.Create(context.Background(), rec); perr != nil {
			log.Error("failed to persist analysis", zap.Error(perr))
		}
	}

	s.finish(session, result, err)
	time.AfterFunc(sessionRetention, func() { s.forget(session) })

	if err != nil {
		log.Warn("analysis ended without result", zap.Error(err))
	}
}

func (s *Service) forget(session *Session) {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if s.sessions[session.ID] == session {
		delete(s.sessions, session.ID)
	}
}

func (s *Service) execute(ctx context.Context, session *Session) (*ai.AnalysisResult, error) {
	rc, err := s.storage.OpenFile(ctx, session.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("opening upload: %w", err)
	}
	defer rc.Close()

	return s.runner.Run(ctx, rc, session.Filename, func(p Progress) {
		session.mu.Lock()
		defer session.mu.Unlock()
		session.progress = p
		broadcast(session, SessionUpdate{Type: UpdateProgress, Data: p})
	})
}

func (s *Service) finish(session *Session, result *ai.AnalysisResult, err error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	now := time.Now().UTC()
	session.completedAt = &now

	switch {
	case err == nil:
		session.status = StatusComplete
		session.result = result
	case errors.Is(err, context.Canceled):
		session.status = StatusCancelled
		session.errMessage = UserMessage(err)
	default:
		session.status = StatusFailed
		session.errMessage = UserMessage(err)
	}

	final := terminalUpdate(session)
	for _, sub := range session.subscribers {
		// Make room so the terminal update is never the one dropped.
		select {
		case sub <- final:
		default:
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- final:
			default:
			}
		}
		close(sub)
	}
	session.subscribers = nil
}

// terminalUpdate must be called with session.mu held.
func terminalUpdate(session *Session) SessionUpdate {
	switch session.status {
	case StatusComplete:
		return SessionUpdate{Type: UpdateComplete, Data: session.result}
	case StatusCancelled:
		return SessionUpdate{Type: UpdateCancelled, Data: map[string]string{"message": session.errMessage}}
	default:
		return SessionUpdate{Type: UpdateError, Data: map[string]string{"message": session.errMessage}}
	}
}

// broadcast must be called with session.mu held. Slow subscribers miss updates
// rather than stall the pipeline.
func broadcast(session *Session, update SessionUpdate) {
	for _, sub := range session.subscribers {
		select {
		case sub <- update:
		default:
		}
	}
}
