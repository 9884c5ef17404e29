package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kdimtricp/deepcheck/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultOpenAIAPIURL    = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel     = "gpt-4o"
	defaultOpenAIMaxTokens = 500

	maxErrorBody = 512
)

const forensicRubric = `You are a forensic video analyst. Decide whether the supplied video frame was generated or manipulated by AI (deepfake, face swap, diffusion or GAN output) or is an authentic camera capture.

Examine:
1. Face artifacts: asymmetric features, warped teeth or ears, unnatural skin texture, mismatched eye reflections, blurred hairlines.
2. Lighting inconsistency: shadows that disagree with light sources, inconsistent specular highlights, faces lit differently from the scene.
3. Temporal and blending artifacts: halos or seams around faces and edges, ghosting, smeared boundaries typical of frame interpolation or compositing.
4. Detail anomalies: malformed hands and fingers, garbled text, impossible geometry, repeated patterns.
5. Compression artifacts: block patterns or noise that differ between regions of the same frame.
6. Background coherence: warped straight lines, melting objects, background that does not match the subject.

Respond with a single JSON object and nothing else:
{"isArtificial": boolean, "confidence": number 0-1, "faceScore": number 0-1, "lightingScore": number 0-1, "artifactScore": number 0-1, "qualityScore": number 0-1, "issues": [string]}

faceScore, lightingScore and qualityScore are 1 when the frame looks fully natural; artifactScore is 1 when no generation artifacts are present.`

type OpenAIClient struct {
	apiKey     string
	apiURL     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOpenAIClient(cfg *Config, logger *zap.Logger) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:    cfg.OpenAIAPIKey,
		apiURL:    cfg.OpenAIAPIURL,
		model:     cfg.OpenAIModel,
		maxTokens: cfg.OpenAIMaxTokens,
		httpClient: &http.Client{
			Timeout: cfg.OpenAITimeout,
		},
		logger: logger,
	}
	if c.apiURL == "" {
		c.apiURL = defaultOpenAIAPIURL
	}
	if c.model == "" {
		c.model = defaultOpenAIModel
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultOpenAIMaxTokens
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = 60 * time.Second
	}
	return c
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

// Content is either a plain string (system) or a list of parts (user).
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ClassifyFrame sends one frame to the oracle. Transport failures are
// returned as *TransportError; an unparseable reply yields the neutral
// verdict and a nil error.
func (c *OpenAIClient) ClassifyFrame(ctx context.Context, frame Frame) (FrameVerdict, error) {
	start := time.Now()
	imageBase64 := base64.StdEncoding.EncodeToString(frame.Image)

	reqBody := openAIRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []openAIMessage{
			{Role: "system", Content: forensicRubric},
			{
				Role: "user",
				Content: []openAIContentPart{
					{
						Type: "text",
						Text: fmt.Sprintf("Analyze frame %d of the video at %.2fs for signs of AI generation or manipulation.", frame.Index+1, frame.Timestamp),
					},
					{
						Type: "image_url",
						ImageURL: &openAIImageURL{
							URL: fmt.Sprintf("data:image/jpeg;base64,%s", imageBase64),
						},
					},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return FrameVerdict{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return FrameVerdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		observeOracle("error", start)
		return FrameVerdict{}, newTransportError(0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		observeOracle("error", start)
		return FrameVerdict{}, newTransportError(0, "", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		terr := newTransportError(resp.StatusCode, truncate(string(body), maxErrorBody), nil)
		observeOracle(string(terr.Kind), start)
		return FrameVerdict{}, terr
	}

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil || len(openAIResp.Choices) == 0 {
		c.logger.Warn("oracle envelope unusable, using neutral verdict",
			zap.Int("frame", frame.Index),
			zap.Error(err),
		)
		observeOracle("parse_fallback", start)
		return NeutralVerdict(frame.Index), nil
	}

	verdict, err := ParseVerdict(frame.Index, openAIResp.Choices[0].Message.Content)
	if err != nil {
		c.logger.Warn("oracle reply unparseable, using neutral verdict",
			zap.Int("frame", frame.Index),
			zap.Error(err),
		)
		observeOracle("parse_fallback", start)
		return NeutralVerdict(frame.Index), nil
	}

	observeOracle("ok", start)
	return verdict, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func observeOracle(result string, start time.Time) {
	metrics.OracleRequestsTotal.WithLabelValues(result).Inc()
	metrics.OracleRequestDuration.Observe(time.Since(start).Seconds())
}
