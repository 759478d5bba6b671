// internal/pipeline/drafter/models.go
package drafter

// Input carries everything the drafter needs: the question, findings,
// and (on a refinement pass) the prior critique text.
type Input struct {
	Question     string   `json:"question"`
	Summary      string   `json:"summary"`
	FindingsText string   `json:"findingsText"`
	SourceURLs   []string `json:"sourceUrls"`
	Critique     string   `json:"critique,omitempty"`
}

type Output struct {
	Answer Answer `json:"answer"`
}

// Answer is the schema-validated structured answer. It is never returned
// partially populated: validation failure aborts the stage.
type Answer struct {
	AnswerText string   `json:"answer_text"`
	KeyPoints  []string `json:"key_points"`
	Evidence   []string `json:"evidence"`
	Sources    []string `json:"sources"`
}
