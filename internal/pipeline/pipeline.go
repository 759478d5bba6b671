// internal/pipeline/pipeline.go
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pipeerrors "research-pipeline/internal/common/errors"
	"research-pipeline/internal/common/metrics"
	"research-pipeline/internal/common/observability"
	"research-pipeline/internal/pipeline/critic"
	"research-pipeline/internal/pipeline/drafter"
	"research-pipeline/internal/pipeline/researcher"
)

// Researcher turns a question into findings.
type Researcher interface {
	Execute(ctx context.Context, input *researcher.Input) (*researcher.Output, error)
}

// Drafter turns findings (and optionally a critique) into an answer.
type Drafter interface {
	Execute(ctx context.Context, input *drafter.Input) (*drafter.Output, error)
}

// Critic scores an answer against its question.
type Critic interface {
	Execute(ctx context.Context, input *critic.Input) (*critic.Output, error)
}

// HistoryStore keeps recent run results for fast lookup.
type HistoryStore interface {
	Save(ctx context.Context, result *Result) error
	Get(ctx context.Context, runID string) (*Result, error)
}

// ArchiveStore persists every run result durably.
type ArchiveStore interface {
	Save(ctx context.Context, result *Result) error
}

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

type Config struct {
	ScoreThreshold int
}

// Pipeline wires the three stages together. Stages always run in order:
// researcher, drafter, critic. A run performs at most one refinement
// pass, so the drafter and critic each see at most two calls per run.
type Pipeline struct {
	config     *Config
	researcher Researcher
	drafter    Drafter
	critic     Critic
	history    HistoryStore
	archive    ArchiveStore
	obs        *observability.Observability
	logger     Logger
}

func New(config *Config, r Researcher, d Drafter, c Critic, log Logger) *Pipeline {
	return &Pipeline{
		config:     config,
		researcher: r,
		drafter:    d,
		critic:     c,
		logger: log.With(map[string]interface{}{
			"component": "pipeline",
		}),
	}
}

// WithHistory attaches a run history store. Stores are optional: a nil
// pipeline store simply skips persistence.
func (p *Pipeline) WithHistory(h HistoryStore) *Pipeline {
	p.history = h
	return p
}

func (p *Pipeline) WithArchive(a ArchiveStore) *Pipeline {
	p.archive = a
	return p
}

func (p *Pipeline) WithObservability(o *observability.Observability) *Pipeline {
	p.obs = o
	return p
}

// Run executes a full pipeline pass for the question. When the first
// critique scores below the threshold, exactly one refinement pass runs
// and its answer/critique pair replaces the originals in the result.
func (p *Pipeline) Run(ctx context.Context, question string) (*Result, error) {
	runID := uuid.New().String()
	start := time.Now()

	log := p.logger.With(map[string]interface{}{"runId": runID})
	log.Info("run started", map[string]interface{}{"question": question})

	findings, err := p.runResearcher(ctx, question)
	if err != nil {
		p.recordRun(ctx, start, "failed", false)
		return nil, err
	}

	answer, crit, err := p.draftAndCritique(ctx, question, findings, "")
	if err != nil {
		p.recordRun(ctx, start, "failed", false)
		return nil, err
	}

	result := &Result{
		RunID:     runID,
		Question:  question,
		Findings:  *findings,
		Answer:    *answer,
		Critique:  *crit,
		CreatedAt: start.UTC(),
	}

	if crit.NeedsRefinement {
		log.Info("score below threshold, refining", map[string]interface{}{
			"score":     crit.Score,
			"threshold": p.config.ScoreThreshold,
		})
		metrics.RefinementPasses.Inc()

		refinedAnswer, refinedCrit, err := p.draftAndCritique(ctx, question, findings, critiqueText(crit))
		if err != nil {
			p.recordRun(ctx, start, "failed", true)
			return nil, err
		}

		result.InitialScore = crit.Score
		result.Answer = *refinedAnswer
		result.Critique = *refinedCrit
		result.Refined = true
	}

	result.DurationMS = time.Since(start).Milliseconds()
	p.persist(ctx, result)
	p.recordRun(ctx, start, "completed", result.Refined)

	log.Info("run completed", map[string]interface{}{
		"score":    result.Critique.Score,
		"refined":  result.Refined,
		"duration": result.DurationMS,
	})

	return result, nil
}

// Refine re-runs the draft and critique stages for a stored run that has
// not been refined yet. A run can only ever be refined once. Optional
// user feedback is appended to the stored critique for the new draft.
func (p *Pipeline) Refine(ctx context.Context, runID string, feedback string) (*Result, error) {
	if p.history == nil {
		return nil, pipeerrors.NewRunNotFoundError(runID)
	}

	result, err := p.history.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if result.Refined {
		return nil, pipeerrors.NewAlreadyRefinedError(runID)
	}

	priorCritique := critiqueText(&result.Critique)
	if strings.TrimSpace(feedback) != "" {
		priorCritique += "\nUser feedback:\n" + strings.TrimSpace(feedback)
	}

	start := time.Now()
	answer, crit, err := p.draftAndCritique(ctx, result.Question, &result.Findings, priorCritique)
	if err != nil {
		return nil, err
	}

	result.InitialScore = result.Critique.Score
	result.Answer = *answer
	result.Critique = *crit
	result.Refined = true
	result.DurationMS = time.Since(start).Milliseconds()

	metrics.RefinementPasses.Inc()
	p.persist(ctx, result)

	p.logger.Info("run refined", map[string]interface{}{
		"runId": runID,
		"score": crit.Score,
	})

	return result, nil
}

// Get returns a stored run result by ID.
func (p *Pipeline) Get(ctx context.Context, runID string) (*Result, error) {
	if p.history == nil {
		return nil, pipeerrors.NewRunNotFoundError(runID)
	}
	return p.history.Get(ctx, runID)
}

func (p *Pipeline) runResearcher(ctx context.Context, question string) (*researcher.Findings, error) {
	start := time.Now()
	out, err := p.researcher.Execute(ctx, &researcher.Input{Question: question})
	p.recordStage(researcher.StageName, start, err)
	if err != nil {
		return nil, err
	}
	return &out.Findings, nil
}

// draftAndCritique runs one draft/critique pair. An empty priorCritique
// means an initial pass; otherwise the drafter is asked to address it.
func (p *Pipeline) draftAndCritique(ctx context.Context, question string, findings *researcher.Findings, priorCritique string) (*drafter.Answer, *critic.Critique, error) {
	start := time.Now()
	draftOut, err := p.drafter.Execute(ctx, &drafter.Input{
		Question:     question,
		Summary:      findings.Summary,
		FindingsText: findingsText(findings),
		SourceURLs:   sourceURLs(findings),
		Critique:     priorCritique,
	})
	p.recordStage(drafter.StageName, start, err)
	if err != nil {
		return nil, nil, err
	}

	answerJSON, err := answerAsJSON(&draftOut.Answer)
	if err != nil {
		return nil, nil, pipeerrors.NewMalformedDraftError(err.Error())
	}

	start = time.Now()
	critOut, err := p.critic.Execute(ctx, &critic.Input{
		Question:   question,
		AnswerJSON: answerJSON,
	})
	p.recordStage(critic.StageName, start, err)
	if err != nil {
		return nil, nil, err
	}

	metrics.CritiqueScore.Observe(float64(critOut.Critique.Score))

	critique := critOut.Critique
	critique.NeedsRefinement = critique.Score < p.config.ScoreThreshold
	return &draftOut.Answer, &critique, nil
}

func (p *Pipeline) persist(ctx context.Context, result *Result) {
	if p.history != nil {
		if err := p.history.Save(ctx, result); err != nil {
			p.logger.Warn("history save failed", map[string]interface{}{
				"runId": result.RunID,
				"error": err.Error(),
			})
		}
	}
	if p.archive != nil {
		if err := p.archive.Save(ctx, result); err != nil {
			p.logger.Warn("archive save failed", map[string]interface{}{
				"runId": result.RunID,
				"error": err.Error(),
			})
		}
	}
}

func (p *Pipeline) recordStage(stage string, start time.Time, err error) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StageFailed.WithLabelValues(stage, string(pipeerrors.CodeOf(err))).Inc()
		return
	}
	metrics.StageCompleted.WithLabelValues(stage).Inc()
}

func (p *Pipeline) recordRun(ctx context.Context, start time.Time, status string, refined bool) {
	if p.obs == nil {
		return
	}
	p.obs.RecordRun(ctx, status, refined)
	p.obs.RecordRunDuration(ctx, time.Since(start), status)
}

func findingsText(findings *researcher.Findings) string {
	var b strings.Builder
	for _, hit := range findings.Hits {
		b.WriteString(fmt.Sprintf("- %s (%s): %s\n", hit.Title, hit.URL, hit.Snippet))
	}
	return b.String()
}

func sourceURLs(findings *researcher.Findings) []string {
	urls := make([]string, 0, len(findings.Hits))
	for _, hit := range findings.Hits {
		urls = append(urls, hit.URL)
	}
	return urls
}

func answerAsJSON(answer *drafter.Answer) (string, error) {
	data, err := json.MarshalIndent(answer, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func critiqueText(crit *critic.Critique) string {
	if len(crit.Suggestions) == 0 {
		return fmt.Sprintf("The draft scored %d/10.", crit.Score)
	}
	return fmt.Sprintf("The draft scored %d/10. Suggestions:\n- %s",
		crit.Score, strings.Join(crit.Suggestions, "\n- "))
}
