// internal/pipeline/researcher/models.go
package researcher

// Input carries the caller's question into the research stage.
type Input struct {
	Question string `json:"question"`
}

// Output wraps the findings produced for one question.
type Output struct {
	Findings Findings `json:"findings"`
}

// Findings holds the ranked raw search hits plus the derived summary.
type Findings struct {
	Hits    []Hit  `json:"hits"`
	Summary string `json:"summary"`
}

type Hit struct {
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet"`
	Relevance float64 `json:"relevance"`
}
