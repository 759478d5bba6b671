// internal/store/archive/archive.go
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	pipeerrors "research-pipeline/internal/common/errors"
	"research-pipeline/internal/pipeline"
)

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Store archives completed runs in Postgres. The answer is stored as a
// JSON document so schema changes never require a migration.
type Store struct {
	db     *sql.DB
	logger Logger
}

func New(db *sql.DB, log Logger) *Store {
	return &Store{
		db: db,
		logger: log.With(map[string]interface{}{
			"component": "archive",
		}),
	}
}

const insertRunQuery = `
	INSERT INTO research_runs (id, question, answer, score, refined, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE
	SET answer = EXCLUDED.answer,
	    score = EXCLUDED.score,
	    refined = EXCLUDED.refined`

// Save upserts the run. Refinement updates the existing row rather than
// creating a second one.
func (s *Store) Save(ctx context.Context, result *pipeline.Result) error {
	answer, err := json.Marshal(result.Answer)
	if err != nil {
		return pipeerrors.NewArchiveWriteFailedError(err)
	}

	_, err = s.db.ExecContext(ctx, insertRunQuery,
		result.RunID,
		result.Question,
		answer,
		result.Critique.Score,
		result.Refined,
		result.CreatedAt,
	)
	if err != nil {
		return pipeerrors.NewArchiveWriteFailedError(err)
	}

	return nil
}

const selectRunQuery = `
	SELECT id, question, answer, score, refined, created_at
	FROM research_runs
	WHERE id = $1`

// GetByID loads an archived run. Only the fields the archive persists
// are populated; findings live in the history store.
func (s *Store) GetByID(ctx context.Context, runID string) (*pipeline.Result, error) {
	var result pipeline.Result
	var answer []byte

	row := s.db.QueryRowContext(ctx, selectRunQuery, runID)
	err := row.Scan(&result.RunID, &result.Question, &answer, &result.Critique.Score, &result.Refined, &result.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, pipeerrors.NewRunNotFoundError(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading archived run %s: %w", runID, err)
	}

	if err := json.Unmarshal(answer, &result.Answer); err != nil {
		return nil, fmt.Errorf("decoding archived answer %s: %w", runID, err)
	}

	return &result, nil
}
