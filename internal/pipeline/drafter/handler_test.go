// internal/pipeline/drafter/handler_test.go
package drafter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	pipeerrors "research-pipeline/internal/common/errors"
)

// ==========================
// Test Logger Implementation
// ==========================

// TestLogger implements the Logger interface for testing
type TestLogger struct {
	t *testing.T
}

func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{t: t}
}

func (l *TestLogger) Info(msg string, fields map[string]interface{})  { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *TestLogger) Warn(msg string, fields map[string]interface{})  { l.t.Logf("WARN: %s %v", msg, fields) }
func (l *TestLogger) Error(msg string, fields map[string]interface{}) { l.t.Logf("ERROR: %s %v", msg, fields) }
func (l *TestLogger) With(fields map[string]interface{}) Logger       { return l }

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return &Config{
		GenAIBaseURL:   "http://localhost:9090",
		Timeout:        3 * time.Second,
		MaxRetries:     1,
		MaxTokens:      4000,
		Temperature:    0.4,
		MaxInputLength: 8000,
	}
}

func createTestInput() *Input {
	return &Input{
		Question:     "What is the capital of France?",
		Summary:      "Paris is the capital of France.",
		FindingsText: "- Paris (https://example.com/paris): capital city\n",
		SourceURLs:   []string{"https://example.com/paris"},
	}
}

func validAnswerJSON() string {
	answer := map[string]interface{}{
		"answer_text": "Paris is the capital of France.",
		"key_points":  []string{"Paris is the capital"},
		"evidence":    []string{"Paris is the capital city of France"},
		"sources":     []string{"https://example.com/paris"},
	}
	data, _ := json.Marshal(answer)
	return string(data)
}

// newGenAIServer returns the given texts in sequence, one per call.
func newGenAIServer(t *testing.T, texts ...string) (*httptest.Server, *int) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/generate", r.URL.Path)

		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req["prompt"])

		text := texts[len(texts)-1]
		if calls < len(texts) {
			text = texts[calls]
		}
		calls++

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"text": text})
	}))
	return server, &calls
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	server, calls := newGenAIServer(t, validAnswerJSON())
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler, err := NewHandler(config, NewTestLogger(t))
	assert.NoError(t, err)

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.NoError(t, err)
	assert.NotNil(t, output)
	assert.Equal(t, "Paris is the capital of France.", output.Answer.AnswerText)
	assert.Equal(t, 1, len(output.Answer.KeyPoints))
	assert.Equal(t, 1, *calls)
}

func TestHandler_Execute_JSONWrappedInProse(t *testing.T) {
	server, _ := newGenAIServer(t, "Here is the answer:\n"+validAnswerJSON()+"\nHope that helps!")
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler, _ := NewHandler(config, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", output.Answer.AnswerText)
}

func TestHandler_Execute_RetryThenSuccess(t *testing.T) {
	server, calls := newGenAIServer(t, "not json at all", validAnswerJSON())
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler, _ := NewHandler(config, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.NoError(t, err)
	assert.NotNil(t, output)
	assert.Equal(t, 2, *calls) // first attempt malformed, second succeeds
}

func TestHandler_Execute_MalformedDraft(t *testing.T) {
	// Valid JSON missing required fields, on every attempt.
	server, calls := newGenAIServer(t, `{"answer_text": "incomplete"}`)
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler, _ := NewHandler(config, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.Error(t, err)
	assert.True(t, pipeerrors.HasCode(err, pipeerrors.ErrCodeMalformedDraft),
		"Expected MALFORMED_DRAFT, got: %v", err)
	assert.Nil(t, output)
	assert.Equal(t, 2, *calls) // retry budget exhausted
}

func TestHandler_Execute_UnknownSourceRejected(t *testing.T) {
	answer := map[string]interface{}{
		"answer_text": "Answer",
		"key_points":  []string{"point"},
		"evidence":    []string{},
		"sources":     []string{"https://not-in-findings.example.com"},
	}
	data, _ := json.Marshal(answer)

	server, _ := newGenAIServer(t, string(data))
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler, _ := NewHandler(config, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.Error(t, err)
	assert.True(t, pipeerrors.HasCode(err, pipeerrors.ErrCodeMalformedDraft))
	assert.Nil(t, output)
}

func TestHandler_Execute_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler, _ := NewHandler(config, NewTestLogger(t))

	output, err := handler.Execute(context.Background(), createTestInput())

	assert.Error(t, err)
	assert.True(t, pipeerrors.HasCode(err, pipeerrors.ErrCodeGenerationFailed))
	assert.Nil(t, output)
}

func TestHandler_Execute_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	config := createTestConfig()
	config.GenAIBaseURL = server.URL
	handler, _ := NewHandler(config, NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	output, err := handler.Execute(ctx, createTestInput())

	assert.Error(t, err)
	assert.True(t, pipeerrors.HasCode(err, pipeerrors.ErrCodeGenerationTimeout))
	assert.Nil(t, output)
}

// ==========================
// Unit Tests
// ==========================

func TestHandler_BuildPrompt(t *testing.T) {
	handler, _ := NewHandler(createTestConfig(), NewTestLogger(t))

	t.Run("initial pass", func(t *testing.T) {
		prompt := handler.buildPrompt(createTestInput())
		assert.Contains(t, prompt, "What is the capital of France?")
		assert.Contains(t, prompt, "Paris is the capital of France.")
		assert.Contains(t, prompt, "https://example.com/paris")
		assert.NotContains(t, prompt, "reviewer")
	})

	t.Run("refinement pass includes critique", func(t *testing.T) {
		input := createTestInput()
		input.Critique = "The draft scored 4/10. Suggestions:\n- cite sources"
		prompt := handler.buildPrompt(input)
		assert.Contains(t, prompt, "reviewer")
		assert.Contains(t, prompt, "cite sources")
	})
}

func TestTruncate(t *testing.T) {
	t.Run("short string unchanged", func(t *testing.T) {
		assert.Equal(t, "abc", truncate("abc", 10))
	})

	t.Run("ascii cut at limit", func(t *testing.T) {
		assert.Equal(t, "abcde", truncate("abcdefgh", 5))
	})

	t.Run("multi-byte rune not split", func(t *testing.T) {
		got := truncate(strings.Repeat("日", 4), 10) // 12 bytes, cut mid-rune
		assert.Equal(t, strings.Repeat("日", 3), got)
		assert.True(t, utf8.ValidString(got))
	})
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "bare object",
			text: `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "object in prose",
			text: "Sure!\n{\"a\": 1}\nDone.",
			want: `{"a": 1}`,
		},
		{
			name: "no object",
			text: "just words",
			want: "",
		},
		{
			name: "broken object",
			text: `{"a": `,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.text))
		})
	}
}
