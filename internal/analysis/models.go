package analysis

import (
	"sync"
	"time"

	"github.com/kdimtricp/deepcheck/internal/ai"
)

// Step names the pipeline phase shown to the user.
type Step string

const (
	StepExtracting Step = "extracting"
	StepAnalyzing  Step = "analyzing"
	StepComputing  Step = "computing"
	StepGenerating Step = "generating"
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type Progress struct {
	Step    Step    `json:"step"`
	Percent float64 `json:"progress"`
}

// ProgressFunc observes pipeline progress. It must not block.
type ProgressFunc func(Progress)

const (
	UpdateProgress  = "progress"
	UpdateComplete  = "complete"
	UpdateError     = "error"
	UpdateCancelled = "cancelled"
)

type SessionUpdate struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Session tracks one analysis run. Fields behind mu are written only by the
// run goroutine; readers go through Snapshot.
type Session struct {
	ID         string
	Filename   string
	StorageKey string
	StartedAt  time.Time

	mu          sync.RWMutex
	status      Status
	progress    Progress
	result      *ai.AnalysisResult
	errMessage  string
	completedAt *time.Time
	subscribers []chan SessionUpdate
	done        chan struct{}
	cancel      func()
}

type Snapshot struct {
	ID          string             `json:"id"`
	Filename    string             `json:"filename"`
	Status      Status             `json:"status"`
	Step        Step               `json:"step,omitempty"`
	Progress    float64            `json:"progress"`
	Result      *ai.AnalysisResult `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ID:          s.ID,
		Filename:    s.Filename,
		Status:      s.status,
		Step:        s.progress.Step,
		Progress:    s.progress.Percent,
		Result:      s.result,
		Error:       s.errMessage,
		StartedAt:   s.StartedAt,
		CompletedAt: s.completedAt,
	}
}

// Done is closed when the run has finished, whatever the outcome.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
