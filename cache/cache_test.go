package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewhand/chatty-commander-sub002/config"
)

const mb = int64(1 << 20)

func testConfig() config.CacheConfig {
	return config.CacheConfig{
		MemoryLimitBytes:       100 * mb,
		UsageHistorySize:       100,
		RecencyHalfLife:        time.Hour,
		FrequencyWindow:        10,
		ReferenceLoadTime:      time.Second,
		RecencyWeight:          0.5,
		FrequencyWeight:        0.3,
		LoadSavingsWeight:      0.2,
		MemoryCostWeight:       0.3,
		PredictorRetrainEvents: 5,
		PredictionThreshold:    0.3,
		PreloadTopK:            2,
	}
}

func sizedLoader(size int64) Loader {
	return func(_ context.Context, modelID string) (any, int64, error) {
		return "handle-" + modelID, size, nil
	}
}

func failingLoader(err error) Loader {
	return func(context.Context, string) (any, int64, error) {
		return nil, 0, err
	}
}

func TestGetOrLoadHitAndMiss(t *testing.T) {
	c := New(testConfig())
	defer c.Close(context.Background())
	ctx := context.Background()

	var calls atomic.Int64
	loader := func(_ context.Context, modelID string) (any, int64, error) {
		calls.Add(1)
		return "handle-" + modelID, 10 * mb, nil
	}

	h1, err := c.GetOrLoad(ctx, "whisper-small", loader)
	require.NoError(t, err)
	assert.Equal(t, "handle-whisper-small", h1)

	h2, err := c.GetOrLoad(ctx, "whisper-small", loader)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, int64(1), calls.Load())

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Hits)
	assert.Equal(t, int64(1), m.Misses)
	assert.InDelta(t, 0.5, m.HitRate, 1e-9)
	assert.InDelta(t, 1.0, m.HitRate+m.MissRate, 1e-9)
	assert.Equal(t, 1, m.Entries)
	assert.Equal(t, 10*mb, m.MemoryUsage)
}

func TestEvictionUnderMemoryPressure(t *testing.T) {
	c := New(testConfig())
	defer c.Close(context.Background())
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, "model-a", sizedLoader(40*mb))
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, "model-b", sizedLoader(40*mb))
	require.NoError(t, err)

	// Extra hits make model-a clearly more valuable than model-b.
	for i := 0; i < 3; i++ {
		_, err = c.GetOrLoad(ctx, "model-a", sizedLoader(40*mb))
		require.NoError(t, err)
	}

	// A third 40MB model cannot fit under the 100MB budget.
	_, err = c.GetOrLoad(ctx, "model-c", sizedLoader(40*mb))
	require.NoError(t, err)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Evictions)
	assert.Equal(t, 2, m.Entries)
	assert.LessOrEqual(t, m.MemoryUsage, m.MemoryLimit)

	// The evicted entry must be model-b: loading it again is a miss.
	missesBefore := m.Misses
	_, err = c.GetOrLoad(ctx, "model-b", sizedLoader(40*mb))
	require.NoError(t, err)
	assert.Equal(t, missesBefore+1, c.Metrics().Misses)
}

func TestLoaderErrorPropagates(t *testing.T) {
	c := New(testConfig())
	defer c.Close(context.Background())

	boom := errors.New("weights file corrupted")
	_, err := c.GetOrLoad(context.Background(), "model-x", failingLoader(boom))
	require.ErrorIs(t, err, boom)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, 0, m.Entries)
}

func TestOversizedModelNotCached(t *testing.T) {
	c := New(testConfig())
	defer c.Close(context.Background())

	h, err := c.GetOrLoad(context.Background(), "huge", sizedLoader(200*mb))
	require.NoError(t, err)
	assert.Equal(t, "handle-huge", h)

	m := c.Metrics()
	assert.Equal(t, 0, m.Entries)
	assert.Zero(t, m.MemoryUsage)
	assert.Zero(t, m.Evictions)
}

func TestPredictivePreload(t *testing.T) {
	c := New(testConfig())
	defer c.Close(context.Background())
	ctx := context.Background()

	// A strictly alternating usage pattern: after model-a, model-b always
	// follows. Retraining kicks in after five events.
	for i := 0; i < 3; i++ {
		c.RecordUsage("model-a", "chatty", 100*time.Millisecond, 50*time.Millisecond, nil)
		c.RecordUsage("model-b", "chatty", 100*time.Millisecond, 50*time.Millisecond, nil)
	}

	_, err := c.GetOrLoad(ctx, "model-b", sizedLoader(10*mb))
	require.NoError(t, err)

	// The predicted follower (model-a) is preloaded in the background.
	require.Eventually(t, func() bool {
		return c.Metrics().Preloads == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, c.Metrics().Entries)

	// Confirming the prediction feeds the accuracy counter.
	c.RecordUsage("model-a", "chatty", 100*time.Millisecond, 50*time.Millisecond, nil)
	assert.InDelta(t, 1.0, c.Metrics().PredictionAccuracy, 1e-9)
}

func TestCloseRejectsFurtherLoads(t *testing.T) {
	c := New(testConfig())
	require.NoError(t, c.Close(context.Background()))

	_, err := c.GetOrLoad(context.Background(), "model-a", sizedLoader(mb))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseEvictsEverything(t *testing.T) {
	c := New(testConfig())
	ctx := context.Background()

	_, err := c.GetOrLoad(ctx, "model-a", sizedLoader(10*mb))
	require.NoError(t, err)
	_, err = c.GetOrLoad(ctx, "model-b", sizedLoader(10*mb))
	require.NoError(t, err)

	require.NoError(t, c.Close(ctx))

	m := c.Metrics()
	assert.Equal(t, 0, m.Entries)
	assert.Zero(t, m.MemoryUsage)
	assert.Equal(t, int64(2), m.Evictions)
}

func TestPreloadNotScheduledAfterClose(t *testing.T) {
	c := New(testConfig())
	require.NoError(t, c.Close(context.Background()))

	var calls atomic.Int64
	c.schedulePreload("model-x", func(context.Context, string) (any, int64, error) {
		calls.Add(1)
		return "h", mb, nil
	})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestCloseWaitsForRegisteredPreloads(t *testing.T) {
	c := New(testConfig())

	var calls atomic.Int64
	loader := func(context.Context, string) (any, int64, error) {
		time.Sleep(20 * time.Millisecond)
		calls.Add(1)
		return "h", mb, nil
	}
	for _, id := range []string{"model-a", "model-b", "model-c", "model-d"} {
		c.schedulePreload(id, loader)
	}

	require.NoError(t, c.Close(context.Background()))

	// Every registered task finished before Close returned, and none of
	// them was admitted into the closed cache.
	assert.Equal(t, int64(4), calls.Load())
	assert.Zero(t, c.Metrics().Entries)
}

func TestRecordUsageNeverBlocksOnRetrainFailure(t *testing.T) {
	cfg := testConfig()
	cfg.PredictorRetrainEvents = 1
	c := New(cfg)
	defer c.Close(context.Background())

	// A single event is below the training minimum; the retrain is skipped
	// without affecting usage recording.
	c.RecordUsage("model-a", "idle", time.Millisecond, time.Millisecond, nil)
	c.RecordUsage("model-b", "idle", time.Millisecond, time.Millisecond, nil)
}

func TestLedgerKeepsChronologicalOrderPastCapacity(t *testing.T) {
	l := newUsageLedger(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		l.append(UsageEvent{ModelID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	events := l.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, "c", events[0].ModelID)
	assert.Equal(t, "d", events[1].ModelID)
	assert.Equal(t, "e", events[2].ModelID)
}

func TestPredictorUntrainedReturnsNil(t *testing.T) {
	p := newNextModelPredictor()
	assert.Nil(t, p.predict("model-a", "chatty", 12))

	err := p.retrain([]UsageEvent{{ModelID: "model-a"}})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestPredictorLearnsTransitions(t *testing.T) {
	now := time.Now()
	var events []UsageEvent
	for i := 0; i < 10; i++ {
		id := "model-a"
		if i%2 == 1 {
			id = "model-b"
		}
		events = append(events, UsageEvent{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			ModelID:   id,
			State:     "chatty",
		})
	}

	p := newNextModelPredictor()
	require.NoError(t, p.retrain(events))

	preds := p.predict("model-a", "chatty", now.Hour())
	require.NotEmpty(t, preds)
	assert.Equal(t, "model-b", preds[0].ModelID)
	assert.Greater(t, preds[0].Probability, 0.5)
}
