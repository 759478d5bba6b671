// internal/store/history/history_test.go
package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerrors "research-pipeline/internal/common/errors"
	"research-pipeline/internal/pipeline"
	"research-pipeline/internal/pipeline/critic"
)

// ==========================
// Test Logger Implementation
// ==========================

// TestLogger implements the Logger interface for testing
type TestLogger struct {
	t *testing.T
}

func NewTestLogger(t *testing.T) *TestLogger {
	return &TestLogger{t: t}
}

func (l *TestLogger) Info(msg string, fields map[string]interface{})  { l.t.Logf("INFO: %s %v", msg, fields) }
func (l *TestLogger) Warn(msg string, fields map[string]interface{})  { l.t.Logf("WARN: %s %v", msg, fields) }
func (l *TestLogger) Error(msg string, fields map[string]interface{}) { l.t.Logf("ERROR: %s %v", msg, fields) }
func (l *TestLogger) With(fields map[string]interface{}) Logger       { return l }

// ==========================
// Test Helper Functions
// ==========================

func newTestStore(t *testing.T, maxRuns int) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, maxRuns, time.Hour, NewTestLogger(t)), mr
}

func testResult(runID string) *pipeline.Result {
	return &pipeline.Result{
		RunID:     runID,
		Question:  "What is the capital of France?",
		Critique:  critic.Critique{Score: 8},
		CreatedAt: time.Now().UTC(),
	}
}

// ==========================
// Tests
// ==========================

func TestStore_SaveAndGet(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()

	result := testResult("run-1")
	require.NoError(t, store.Save(ctx, result))

	loaded, err := store.Get(ctx, "run-1")

	assert.NoError(t, err)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, result.Question, loaded.Question)
	assert.Equal(t, 8, loaded.Critique.Score)
}

func TestStore_Get_NotFound(t *testing.T) {
	store, _ := newTestStore(t, 10)

	loaded, err := store.Get(context.Background(), "missing")

	assert.Error(t, err)
	assert.True(t, pipeerrors.HasCode(err, pipeerrors.ErrCodeRunNotFound))
	assert.Nil(t, loaded)
}

func TestStore_Save_Overwrite(t *testing.T) {
	store, _ := newTestStore(t, 10)
	ctx := context.Background()

	result := testResult("run-1")
	require.NoError(t, store.Save(ctx, result))
	require.NoError(t, store.Save(ctx, testResult("run-2")))

	result.Refined = true
	require.NoError(t, store.Save(ctx, result))

	loaded, err := store.Get(ctx, "run-1")
	assert.NoError(t, err)
	assert.True(t, loaded.Refined)

	// The re-save moves run-1 to the front without duplicating it
	ids, err := store.RecentIDs(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, ids)
}

func TestStore_RecentIDs_CappedAndNewestFirst(t *testing.T) {
	store, _ := newTestStore(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Save(ctx, testResult(fmt.Sprintf("run-%d", i))))
	}

	ids, err := store.RecentIDs(ctx)

	assert.NoError(t, err)
	assert.Equal(t, []string{"run-4", "run-3", "run-2"}, ids)
}

func TestStore_Save_TTLSet(t *testing.T) {
	store, mr := newTestStore(t, 10)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, testResult("run-1")))

	// Runs expire; the recent list only tracks IDs
	mr.FastForward(2 * time.Hour)

	loaded, err := store.Get(ctx, "run-1")
	assert.Error(t, err)
	assert.True(t, pipeerrors.HasCode(err, pipeerrors.ErrCodeRunNotFound))
	assert.Nil(t, loaded)
}
