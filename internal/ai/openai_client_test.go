package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestOpenAIClient(url string) *OpenAIClient {
	cfg := NewConfig()
	cfg.OpenAIAPIKey = "sk-test"
	cfg.OpenAIAPIURL = url
	cfg.OpenAITimeout = 5 * time.Second
	return NewOpenAIClient(cfg, zap.NewNop())
}

func chatReply(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"role": "assistant", "content": content}},
		},
	})
	return string(body)
}

func TestOpenAIClientRequestShape(t *testing.T) {
	var captured map[string]any
	var auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, chatReply(`{"isArtificial":false,"confidence":0.9,"faceScore":0.8,"lightingScore":0.7,"artifactScore":0.95,"qualityScore":0.6,"issues":[]}`))
	}))
	defer srv.Close()

	client := newTestOpenAIClient(srv.URL)
	frame := Frame{Index: 2, Timestamp: 4.5, Image: []byte{0xff, 0xd8, 0xff}}

	_, err := client.ClassifyFrame(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "gpt-4o", captured["model"])
	assert.EqualValues(t, 500, captured["max_tokens"])

	messages := captured["messages"].([]any)
	require.Len(t, messages, 2)

	system := messages[0].(map[string]any)
	assert.Equal(t, "system", system["role"])
	assert.Contains(t, system["content"], "Lighting inconsistency")

	user := messages[1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].(map[string]any)["text"], "Analyze frame 3")
	imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(imageURL, "data:image/jpeg;base64,/9j/"))
}

func TestOpenAIClientClassifyFrame(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantFallback bool
		wantAI       bool
		wantConf     float64
	}{
		{
			name:     "plain json",
			content:  `{"isArtificial":true,"confidence":0.87,"faceScore":0.2,"lightingScore":0.4,"artifactScore":0.3,"qualityScore":0.5,"issues":["warped ear"]}`,
			wantAI:   true,
			wantConf: 0.87,
		},
		{
			name:     "fenced json",
			content:  "```json\n{\"isArtificial\":false,\"confidence\":0.7,\"faceScore\":0.9,\"lightingScore\":0.9,\"artifactScore\":0.9,\"qualityScore\":0.9,\"issues\":[]}\n```",
			wantConf: 0.7,
		},
		{
			name:         "prose only",
			content:      "I'm sorry, I can't help with that.",
			wantFallback: true,
			wantConf:     0.5,
		},
		{
			name:         "broken json",
			content:      `{"isArtificial": tru, "confidence": }`,
			wantFallback: true,
			wantConf:     0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, chatReply(tt.content))
			}))
			defer srv.Close()

			verdict, err := newTestOpenAIClient(srv.URL).ClassifyFrame(context.Background(), Frame{Index: 1})
			require.NoError(t, err)

			assert.Equal(t, 1, verdict.FrameIndex)
			assert.Equal(t, tt.wantFallback, verdict.Fallback)
			assert.Equal(t, tt.wantAI, verdict.IsArtificial)
			assert.InDelta(t, tt.wantConf, verdict.Confidence, 1e-9)
			if tt.wantFallback {
				assert.Equal(t, NeutralVerdict(1), verdict)
			}
		})
	}
}

func TestOpenAIClientEnvelopeWithoutChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	verdict, err := newTestOpenAIClient(srv.URL).ClassifyFrame(context.Background(), Frame{Index: 4})
	require.NoError(t, err)
	assert.Equal(t, NeutralVerdict(4), verdict)
}

func TestOpenAIClientTransportErrors(t *testing.T) {
	tests := []struct {
		status   int
		kind     TransportKind
		sentinel error
	}{
		{http.StatusTooManyRequests, TransportRateLimited, ErrRateLimited},
		{http.StatusPaymentRequired, TransportQuotaExhausted, ErrQuotaExhausted},
		{http.StatusInternalServerError, TransportOther, nil},
		{http.StatusUnauthorized, TransportOther, nil},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error":{"message":"nope"}}`)
			}))
			defer srv.Close()

			_, err := newTestOpenAIClient(srv.URL).ClassifyFrame(context.Background(), Frame{})

			var terr *TransportError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, tt.status, terr.StatusCode)
			assert.Equal(t, tt.kind, terr.Kind)
			assert.Contains(t, terr.Body, "nope")
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			} else {
				assert.False(t, errors.Is(err, ErrRateLimited) || errors.Is(err, ErrQuotaExhausted))
			}
		})
	}
}

func TestOpenAIClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestOpenAIClient(url).ClassifyFrame(context.Background(), Frame{})

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 0, terr.StatusCode)
	assert.Equal(t, TransportOther, terr.Kind)
}
