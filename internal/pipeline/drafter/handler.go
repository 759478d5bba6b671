// internal/pipeline/drafter/handler.go
package drafter

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

const StageName = "drafter"

// answerSchema is the contract every draft must satisfy before it
// leaves this stage. Sources are additionally checked against the
// findings, which the schema alone cannot express.
const answerSchema = `{
	"type": "object",
	"required": ["answer_text", "key_points", "evidence", "sources"],
	"properties": {
		"answer_text": {"type": "string", "minLength": 1},
		"key_points": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "string"}
		},
		"evidence": {
			"type": "array",
			"items": {"type": "string"}
		},
		"sources": {
			"type": "array",
			"items": {"type": "string", "pattern": "^https?://"}
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
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(answerSchema))
	if err != nil {
		return nil, fmt.Errorf("compiling answer schema: %w", err)
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

// Execute produces a schema-validated answer from the findings. When the
// input carries a critique, the prompt asks the model to address it.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	prompt := h.buildPrompt(input)

	var lastErr error
	attempts := h.config.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			h.logger.Warn("retrying draft generation", map[string]interface{}{
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

		answer, err := h.parseAnswer(text, input.SourceURLs)
		if err != nil {
			lastErr = err
			continue
		}

		h.logger.Info("draft completed", map[string]interface{}{
			"attempt":   attempt + 1,
			"keyPoints": len(answer.KeyPoints),
			"sources":   len(answer.Sources),
			"refining":  input.Critique != "",
		})

		return &Output{Answer: *answer}, nil
	}

	if pipeerrors.CodeOf(lastErr) == pipeerrors.ErrCodeMalformedDraft {
		return nil, lastErr
	}
	return nil, pipeerrors.NewGenerationFailedError(lastErr)
}

func (h *Handler) buildPrompt(input *Input) string {
	var parts []string

	parts = append(parts, "You are an expert writer. Answer the question using only the research findings below.")
	parts = append(parts, fmt.Sprintf("\nQuestion: %s", input.Question))
	parts = append(parts, fmt.Sprintf("\nResearch Summary:\n%s", truncate(input.Summary, h.config.MaxInputLength)))

	if input.FindingsText != "" {
		parts = append(parts, fmt.Sprintf("\nFindings:\n%s", truncate(input.FindingsText, h.config.MaxInputLength)))
	}

	if len(input.SourceURLs) > 0 {
		parts = append(parts, fmt.Sprintf("\nAllowed sources:\n%s", strings.Join(input.SourceURLs, "\n")))
	}

	if input.Critique != "" {
		parts = append(parts, fmt.Sprintf("\nA reviewer raised the following issues with an earlier draft. Address every one of them:\n%s", truncate(input.Critique, h.config.MaxInputLength)))
	}

	parts = append(parts, `
Respond with a single JSON object and nothing else:
{
  "answer_text": "the full answer",
  "key_points": ["at least one key point"],
  "evidence": ["supporting statements from the findings"],
  "sources": ["URLs from the allowed sources list"]
}`)

	return strings.Join(parts, "\n")
}

// generate performs one call to the generation API. The request body is
// rebuilt on every call so retries never reuse a drained reader.
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

// parseAnswer extracts the JSON object from the model output, validates
// it against the answer schema and checks that every cited source is one
// of the findings' URLs.
func (h *Handler) parseAnswer(text string, allowedSources []string) (*Answer, error) {
	raw := extractJSONObject(text)
	if raw == "" {
		return nil, pipeerrors.NewMalformedDraftError("no JSON object in model output")
	}

	result, err := h.schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, pipeerrors.NewMalformedDraftError(fmt.Sprintf("invalid JSON: %v", err))
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return nil, pipeerrors.NewMalformedDraftError(strings.Join(problems, "; "))
	}

	var answer Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, pipeerrors.NewMalformedDraftError(err.Error())
	}

	allowed := make(map[string]bool, len(allowedSources))
	for _, src := range allowedSources {
		allowed[src] = true
	}
	for _, src := range answer.Sources {
		if !allowed[src] {
			return nil, pipeerrors.NewMalformedDraftError(fmt.Sprintf("cited source not in findings: %s", src))
		}
	}

	return &answer, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSONObject returns the text itself when it already is a JSON
// object, otherwise the widest {...} span embedded in it. Models often
// wrap their JSON in prose or code fences.
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
