// internal/pipeline/researcher/handler.go
package researcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	pipeerrors "research-pipeline/internal/common/errors"
)

const StageName = "researcher"

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
	logger Logger
}

func NewHandler(config *Config, log Logger) *Handler {
	return &Handler{
		config: config,
		// Rely on per-call contexts, not a client-wide timeout
		client: &http.Client{},
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

// Execute runs the research stage: search, rank, then summarize.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	question, err := h.validateQuestion(input.Question)
	if err != nil {
		return nil, err
	}

	hits, err := h.searchWithRetry(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, pipeerrors.NewNoFindingsError(question)
	}

	summary, err := h.summarize(ctx, question, hits)
	if err != nil {
		return nil, err
	}

	h.logger.Info("research completed", map[string]interface{}{
		"question":  question,
		"hitCount":  len(hits),
		"summaryOk": summary != "",
	})

	return &Output{
		Findings: Findings{
			Hits:    hits,
			Summary: summary,
		},
	}, nil
}

func (h *Handler) validateQuestion(question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", pipeerrors.NewInvalidQuestionError("empty after trimming")
	}
	question = truncate(question, h.config.MaxQueryLength)
	// Collapse internal whitespace
	question = regexp.MustCompile(`\s+`).ReplaceAllString(question, " ")
	return question, nil
}

func (h *Handler) searchWithRetry(ctx context.Context, question string) ([]Hit, error) {
	var lastErr error

	for attempt := 0; attempt < h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff between search attempts
			delay := time.Duration(attempt) * h.config.RetryDelay
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, pipeerrors.NewSearchTimeoutError()
			}
		}

		hits, err := h.search(ctx, question)
		if err == nil {
			return hits, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, pipeerrors.NewSearchTimeoutError()
		}

		h.logger.Warn("search attempt failed", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}

	return nil, pipeerrors.NewSearchFailedError(lastErr)
}

func (h *Handler) search(ctx context.Context, question string) ([]Hit, error) {
	searchCtx, cancel := context.WithTimeout(ctx, h.config.SearchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(searchCtx, "GET", h.buildSearchURL(question), nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %d", resp.StatusCode)
	}

	var apiResponse struct {
		Items []searchItem `json:"items"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, err
	}

	return h.processResults(apiResponse.Items), nil
}

type searchItem struct {
	Link    string `json:"link"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Mime    string `json:"mime"`
}

func (h *Handler) buildSearchURL(query string) string {
	baseURL, _ := url.Parse(h.config.SearchAPIBaseURL)
	params := url.Values{}
	params.Add("key", h.config.SearchAPIKey)
	params.Add("cx", h.config.SearchEngineID)
	params.Add("q", query)
	params.Add("num", fmt.Sprintf("%d", h.config.MaxResults))
	baseURL.RawQuery = params.Encode()
	return baseURL.String()
}

func (h *Handler) processResults(items []searchItem) []Hit {
	seen := make(map[string]bool)
	var hits []Hit

	for _, item := range items {
		// Skip non-HTML
		if item.Mime != "" && !strings.Contains(item.Mime, "html") {
			continue
		}

		// Dedupe by URL
		if seen[item.Link] {
			continue
		}
		seen[item.Link] = true

		relevance := 1.0
		if strings.Contains(item.Link, ".gov") || strings.Contains(item.Link, ".edu") {
			relevance += 0.2
		}
		if strings.Contains(strings.ToLower(item.Title), "official") {
			relevance += 0.1
		}

		hits = append(hits, Hit{
			URL:       item.Link,
			Title:     item.Title,
			Snippet:   item.Snippet,
			Relevance: relevance,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Relevance > hits[j].Relevance
	})

	if len(hits) > h.config.MaxResults {
		hits = hits[:h.config.MaxResults]
	}

	return hits
}

func (h *Handler) summarize(ctx context.Context, question string, hits []Hit) (string, error) {
	summaryCtx, cancel := context.WithTimeout(ctx, h.config.SummaryTimeout)
	defer cancel()

	prompt := h.buildSummaryPrompt(question, hits)
	requestBody := map[string]interface{}{
		"prompt":      prompt,
		"max_tokens":  1000,
		"temperature": 0.2,
	}

	body, _ := json.Marshal(requestBody)
	req, err := http.NewRequestWithContext(summaryCtx, "POST", h.config.GenAIBaseURL+"/api/ai/generate", bytes.NewBuffer(body))
	if err != nil {
		return "", pipeerrors.NewSummaryFailedError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.config.GenAIAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.config.GenAIAPIKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return "", pipeerrors.NewSummaryFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", pipeerrors.NewSummaryFailedError(fmt.Errorf("summary API returned %d", resp.StatusCode))
	}

	var apiResponse struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return "", pipeerrors.NewSummaryFailedError(err)
	}

	if strings.TrimSpace(apiResponse.Text) == "" {
		return "", pipeerrors.NewSummaryFailedError(fmt.Errorf("summary API returned empty text"))
	}

	return apiResponse.Text, nil
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

func (h *Handler) buildSummaryPrompt(question string, hits []Hit) string {
	var parts []string

	parts = append(parts, "You are a research assistant. Summarize the search results below as they relate to the question.")
	parts = append(parts, fmt.Sprintf("\nQuestion: %s", question))
	parts = append(parts, "\nSearch Results:")

	var resultText strings.Builder
	for _, hit := range hits {
		resultText.WriteString(fmt.Sprintf("- %s (%s): %s\n", hit.Title, hit.URL, hit.Snippet))
	}
	parts = append(parts, truncate(resultText.String(), h.config.MaxInputLength))

	parts = append(parts, "\nWrite a concise factual summary. Do not invent information that is not in the results.")

	return strings.Join(parts, "\n")
}
