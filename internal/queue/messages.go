package queue

import "github.com/kdimtricp/deepcheck/internal/ai"

// AnalysisRequest is the inbound message on the requests queue. VideoKey
// names an object already uploaded to storage.
type AnalysisRequest struct {
	JobID    string `json:"job_id"`
	VideoKey string `json:"video_key"`
	Filename string `json:"filename"`
}

// StatusMessage is published on the status routing key once a request has
// been handled, whatever the outcome.
type StatusMessage struct {
	JobID          string     `json:"job_id"`
	Status         string     `json:"status"`
	Verdict        ai.Verdict `json:"verdict,omitempty"`
	Confidence     float64    `json:"confidence,omitempty"`
	FramesAnalyzed int        `json:"frames_analyzed,omitempty"`
	Error          string     `json:"error,omitempty"`
}
