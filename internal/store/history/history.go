// internal/store/history/history.go
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	pipeerrors "research-pipeline/internal/common/errors"
	"research-pipeline/internal/pipeline"
)

const (
	runKeyPrefix  = "research:run:"
	recentRunsKey = "research:recent"
)

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Store keeps recent run results in Redis. Each run is stored under its
// own key with a TTL; a capped list of run IDs tracks recency.
type Store struct {
	client  *redis.Client
	maxRuns int
	ttl     time.Duration
	logger  Logger
}

func New(client *redis.Client, maxRuns int, ttl time.Duration, log Logger) *Store {
	return &Store{
		client:  client,
		maxRuns: maxRuns,
		ttl:     ttl,
		logger: log.With(map[string]interface{}{
			"component": "history",
		}),
	}
}

// Save stores the result and trims the recent list to the configured
// size. Re-saving a run (refinement) moves its ID to the front instead
// of adding a duplicate. Runs that fall off the list still expire via
// their TTL.
func (s *Store) Save(ctx context.Context, result *pipeline.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return pipeerrors.NewHistoryWriteFailedError(err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKeyPrefix+result.RunID, data, s.ttl)
	pipe.LRem(ctx, recentRunsKey, 0, result.RunID)
	pipe.LPush(ctx, recentRunsKey, result.RunID)
	pipe.LTrim(ctx, recentRunsKey, 0, int64(s.maxRuns-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return pipeerrors.NewHistoryWriteFailedError(err)
	}

	return nil
}

// Get returns a stored run by ID.
func (s *Store) Get(ctx context.Context, runID string) (*pipeline.Result, error) {
	data, err := s.client.Get(ctx, runKeyPrefix+runID).Bytes()
	if err == redis.Nil {
		return nil, pipeerrors.NewRunNotFoundError(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}

	var result pipeline.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}

	return &result, nil
}

// RecentIDs lists the IDs of the most recent runs, newest first.
func (s *Store) RecentIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.LRange(ctx, recentRunsKey, 0, int64(s.maxRuns-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing recent runs: %w", err)
	}
	return ids, nil
}
