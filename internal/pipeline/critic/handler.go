// internal/pipeline/critic/handler.go
package critic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	pipeerrors "research-pipeline/internal/common/errors"
)

const StageName = "critic"

const critiqueSchema = `{
	"type": "object",
	"required": ["score", "suggestions"],
	"properties": {
		"score": {"type": "integer", "minimum": 1, "maximum": 10},
		"suggestions": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"additionalProperties": true
}`

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Handler struct {
	config *Config
	client *http.Client
	schema *gojsonschema.Schema
	logger Logger
}

func NewHandler(config *Config, log Logger) (*Handler, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(critiqueSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling critique schema: %w", err)
	}

	return &Handler{
		config: config,
		client: &http.Client{},
		schema: schema,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}, nil
}

// Execute scores the draft answer against the question. A model response
// that cannot be parsed into a valid critique after all retries yields
// UNPARSEABLE_CRITIQUE; a transport failure yields GENERATION_FAILED.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	prompt := h.buildPrompt(input)

	var lastErr error
	attempts := h.config.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			h.logger.Warn("retrying critique", map[string]interface{}{
				"attempt": attempt + 1,
				"error":   lastErr.Error(),
			})
		}

		text, err := h.generate(ctx, prompt)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, pipeerrors.NewGenerationTimeoutError()
			}
			continue
		}

		critique, err := h.parseCritique(text)
		if err != nil {
			lastErr = err
			continue
		}

		h.logger.Info("critique completed", map[string]interface{}{
			"attempt":     attempt + 1,
			"score":       critique.Score,
			"suggestions": len(critique.Suggestions),
		})

		return &Output{Critique: *critique}, nil
	}

	if pipeerrors.CodeOf(lastErr) == pipeerrors.ErrCodeUnparseableCritique {
		return nil, lastErr
	}
	return nil, pipeerrors.NewGenerationFailedError(lastErr)
}

func (h *Handler) buildPrompt(input *Input) string {
	var parts []string

	parts = append(parts, "You are a strict reviewer. Evaluate how well the draft answers the question.")
	parts = append(parts, fmt.Sprintf("\nQuestion: %s", input.Question))
	parts = append(parts, fmt.Sprintf("\nDraft answer:\n%s", truncate(input.AnswerJSON, h.config.MaxInputLength)))
	parts = append(parts, `
Judge factual accuracy, completeness and clarity. Respond with a single JSON object and nothing else:
{
  "score": <integer 1-10>,
  "suggestions": ["concrete improvements, empty if none"]
}`)

	return strings.Join(parts, "\n")
}

// generate performs one call to the generation API, rebuilding the
// request body each time.
func (h *Handler) generate(ctx context.Context, prompt string) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	requestBody := map[string]interface{}{
		"prompt":      prompt,
		"max_tokens":  h.config.MaxTokens,
		"temperature": h.config.Temperature,
	}

	body, _ := json.Marshal(requestBody)
	req, err := http.NewRequestWithContext(genCtx, "POST", h.config.GenAIBaseURL+"/api/ai/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.config.GenAIAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.GenAIAPIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation API returned %d", resp.StatusCode)
	}

	var apiResponse struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", err
	}

	if strings.TrimSpace(apiResponse.Text) == "" {
		return "", fmt.Errorf("generation API returned empty text")
	}

	return apiResponse.Text, nil
}

// parseCritique extracts and validates the critique JSON. The score must
// land in [1,10]; the schema enforces that, so a valid document never
// needs clamping.
func (h *Handler) parseCritique(text string) (*Critique, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, pipeerrors.NewUnparseableCritiqueError("no JSON object in model output")
	}

	result, err := h.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, pipeerrors.NewUnparseableCritiqueError(fmt.Sprintf("invalid JSON: %v", err))
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, pipeerrors.NewUnparseableCritiqueError(strings.Join(problems, "; "))
	}

	var critique Critique
	if err := json.Unmarshal([]byte(raw), &critique); err != nil {
		return nil, pipeerrors.NewUnparseableCritiqueError(err.Error())
	}

	return &critique, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return text
	}
	match := jsonObjectPattern.FindString(text)
	if match != "" && json.Valid([]byte(match)) {
		return match
	}
	return ""
}

// truncate caps s at max bytes without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
