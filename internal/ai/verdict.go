package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object in reply")

// wireVerdict mirrors the JSON the rubric asks for. Pointers tell a missing
// score apart from a zero one.
type wireVerdict struct {
	IsArtificial  *bool    `json:"isArtificial"`
	Confidence    *float64 `json:"confidence"`
	FaceScore     *float64 `json:"faceScore"`
	LightingScore *float64 `json:"lightingScore"`
	ArtifactScore *float64 `json:"artifactScore"`
	QualityScore  *float64 `json:"qualityScore"`
	Issues        []string `json:"issues"`
}

// ParseVerdict extracts the verdict object from an oracle reply, tolerating
// markdown code fences and prose around the object. Missing scores default
// to 0.5 and every score is clamped into [0,1].
func ParseVerdict(frameIndex int, content string) (FrameVerdict, error) {
	raw, err := extractJSONObject(content)
	if err != nil {
		return FrameVerdict{}, err
	}

	var w wireVerdict
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return FrameVerdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if w.IsArtificial == nil {
		return FrameVerdict{}, fmt.Errorf("decode verdict: missing isArtificial")
	}

	issues := w.Issues
	if issues == nil {
		issues = []string{}
	}

	return FrameVerdict{
		FrameIndex:    frameIndex,
		IsArtificial:  *w.IsArtificial,
		Confidence:    score(w.Confidence),
		FaceScore:     score(w.FaceScore),
		LightingScore: score(w.LightingScore),
		ArtifactScore: score(w.ArtifactScore),
		QualityScore:  score(w.QualityScore),
		Issues:        issues,
	}, nil
}

func extractJSONObject(content string) (string, error) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return "", errNoJSONObject
	}
	return s[start : end+1], nil
}

func score(v *float64) float64 {
	if v == nil {
		return 0.5
	}
	return clamp(*v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
