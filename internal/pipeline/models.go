// internal/pipeline/models.go
package pipeline

import (
	"time"

	"research-pipeline/internal/pipeline/critic"
	"research-pipeline/internal/pipeline/drafter"
	"research-pipeline/internal/pipeline/researcher"
)

// Result is the full outcome of one pipeline run. When the run went
// through a refinement pass, Answer and Critique hold the refined pair
// and InitialScore preserves the score that triggered refinement.
type Result struct {
	RunID        string              `json:"runId"`
	Question     string              `json:"question"`
	Findings     researcher.Findings `json:"findings"`
	Answer       drafter.Answer      `json:"answer"`
	Critique     critic.Critique     `json:"critique"`
	Refined      bool                `json:"refined"`
	InitialScore int                 `json:"initialScore,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	DurationMS   int64               `json:"durationMs"`
}
