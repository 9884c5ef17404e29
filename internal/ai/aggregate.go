package ai

import (
	"fmt"
	"time"
)

const (
	minConfidence = 0.5
	maxConfidence = 0.99
)

// Aggregate folds per-frame verdicts into one result. The label is a strict
// majority vote; the confidence is the winning side's share of frames times
// the mean self-reported confidence, clamped to [0.5, 0.99]. A non-positive
// framesAnalyzed means len(verdicts); any other count must match it.
func Aggregate(verdicts []FrameVerdict, framesAnalyzed int, elapsed time.Duration) (*AnalysisResult, error) {
	if len(verdicts) == 0 {
		return nil, ErrEmptyInput
	}
	if framesAnalyzed <= 0 {
		framesAnalyzed = len(verdicts)
	}
	if framesAnalyzed != len(verdicts) {
		return nil, fmt.Errorf("aggregate: %d verdicts for %d analyzed frames", len(verdicts), framesAnalyzed)
	}

	var (
		artificial                                  int
		sumConf, sumFace, sumLight, sumArt, sumQual float64
	)
	for _, v := range verdicts {
		if v.IsArtificial {
			artificial++
		}
		sumConf += v.Confidence
		sumFace += v.FaceScore
		sumLight += v.LightingScore
		sumArt += v.ArtifactScore
		sumQual += v.QualityScore
	}

	n := float64(len(verdicts))
	avgConfidence := sumConf / n
	total := float64(framesAnalyzed)

	verdict := VerdictReal
	agreeing := framesAnalyzed - artificial
	if float64(artificial) > total/2 {
		verdict = VerdictAIGenerated
		agreeing = artificial
	}

	raw := float64(agreeing) / total * avgConfidence

	frameVerdicts := make([]FrameVerdict, len(verdicts))
	copy(frameVerdicts, verdicts)

	return &AnalysisResult{
		Confidence: clamp(raw, minConfidence, maxConfidence),
		Verdict:    verdict,
		Details: Details{
			FaceConsistency:     sumFace / n,
			TemporalCoherence:   sumLight / n,
			ArtifactScore:       sumArt / n,
			CompressionAnalysis: sumQual / n,
		},
		FramesAnalyzed: framesAnalyzed,
		ProcessingTime: elapsed.Seconds(),
		FrameVerdicts:  frameVerdicts,
	}, nil
}
