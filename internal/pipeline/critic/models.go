// internal/pipeline/critic/models.go
package critic

// Input carries the question and the draft answer text to be judged.
type Input struct {
	Question   string `json:"question"`
	AnswerJSON string `json:"answerJson"`
}

type Output struct {
	Critique Critique `json:"critique"`
}

// Critique is the reviewer verdict: an integer score from 1 to 10 and
// concrete suggestions for improving the draft. NeedsRefinement is not
// part of the model output; the orchestrator derives it from the score
// and its configured threshold.
type Critique struct {
	Score           int      `json:"score"`
	Suggestions     []string `json:"suggestions"`
	NeedsRefinement bool     `json:"needs_refinement"`
}
