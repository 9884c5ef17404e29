package ai

import "time"

// Frame is one still image sampled from a video. Index follows temporal order.
type Frame struct {
	Index     int     `json:"index"`
	Timestamp float64 `json:"timestamp_seconds"`
	Image     []byte  `json:"-"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
}

// FrameVerdict is the oracle's judgement of a single frame.
type FrameVerdict struct {
	FrameIndex    int      `json:"frame_index"`
	IsArtificial  bool     `json:"is_artificial"`
	Confidence    float64  `json:"confidence"`
	FaceScore     float64  `json:"face_score"`
	LightingScore float64  `json:"lighting_score"`
	ArtifactScore float64  `json:"artifact_score"`
	QualityScore  float64  `json:"quality_score"`
	Issues        []string `json:"issues"`
	// Fallback is set when the oracle reply could not be parsed and the
	// neutral default was substituted.
	Fallback bool `json:"fallback,omitempty"`
}

// NeutralVerdict returns the verdict used when an oracle reply is unusable.
func NeutralVerdict(frameIndex int) FrameVerdict {
	return FrameVerdict{
		FrameIndex:    frameIndex,
		IsArtificial:  false,
		Confidence:    0.5,
		FaceScore:     0.5,
		LightingScore: 0.5,
		ArtifactScore: 0.5,
		QualityScore:  0.5,
		Issues:        []string{"Unable to analyze frame"},
		Fallback:      true,
	}
}

type Verdict string

const (
	VerdictReal        Verdict = "real"
	VerdictAIGenerated Verdict = "ai_generated"
)

// Details holds the averaged sub-scores reported next to the verdict.
type Details struct {
	FaceConsistency     float64 `json:"face_consistency"`
	TemporalCoherence   float64 `json:"temporal_coherence"`
	ArtifactScore       float64 `json:"artifact_score"`
	CompressionAnalysis float64 `json:"compression_analysis"`
}

// AnalysisResult is the terminal artifact of one pipeline run.
type AnalysisResult struct {
	Confidence     float64        `json:"confidence"`
	Verdict        Verdict        `json:"verdict"`
	Details        Details        `json:"details"`
	FramesAnalyzed int            `json:"frames_analyzed"`
	ProcessingTime float64        `json:"processing_time_seconds"`
	FrameVerdicts  []FrameVerdict `json:"frame_verdicts"`
}

type Config struct {
	OpenAIAPIKey        string
	OpenAIAPIURL        string
	OpenAIModel         string
	OpenAIMaxTokens     int
	OpenAITimeout       time.Duration
	FrameQuality        float64
	MaxFrameDimension   int
	ClassifyConcurrency int
	TempDir             string
}

func NewConfig() *Config {
	return &Config{
		OpenAIAPIURL:        defaultOpenAIAPIURL,
		OpenAIModel:         defaultOpenAIModel,
		OpenAIMaxTokens:     defaultOpenAIMaxTokens,
		OpenAITimeout:       60 * time.Second,
		FrameQuality:        0.8,
		MaxFrameDimension:   DefaultMaxFrameDimension,
		ClassifyConcurrency: DefaultConcurrency,
	}
}
