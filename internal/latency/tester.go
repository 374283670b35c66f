// Package latency probes how quickly profile endpoints answer.
package latency

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"xrayclient/internal/storage/models"
)

// Recorder persists test outcomes.
type Recorder interface {
	RecordLatency(ctx context.Context, latency *models.LatencyTest) error
}

// TestResult holds the outcome for a single profile.
type TestResult struct {
	Profile *models.Profile
	Latency *models.LatencyTest
}

// BatchResult holds the outcome of testing multiple profiles.
type BatchResult struct {
	Results   []*TestResult
	Tested    int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// ProgressFunc is called each time a single test completes during batch testing.
type ProgressFunc func(result *TestResult, current, total int)

// TesterConfig holds configuration for the Tester.
type TesterConfig struct {
	Workers  int64
	Timeout  time.Duration
	Strategy Strategy
	Logger   *zap.Logger
}

// Tester orchestrates latency testing.
type Tester struct {
	store  Recorder
	config TesterConfig
	log    *zap.Logger
}

// NewTester creates a new Tester.
func NewTester(store Recorder, cfg TesterConfig) *Tester {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Strategy == nil {
		cfg.Strategy = &TCPStrategy{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Tester{store: store, config: cfg, log: cfg.Logger}
}

// TestSingle tests one profile and records the result.
func (t *Tester) TestSingle(ctx context.Context, profile *models.Profile) *TestResult {
	testCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	latencyMS, err := t.config.Strategy.Test(testCtx, profile)

	test := &models.LatencyTest{
		ProfileID:    profile.ID,
		TestStrategy: t.config.Strategy.Name(),
		TestedAt:     time.Now(),
	}
	if err != nil {
		test.ErrorMessage = err.Error()
	} else {
		test.Success = true
		test.LatencyMS = &latencyMS
	}

	// Recording is best-effort.
	if err := t.store.RecordLatency(ctx, test); err != nil {
		t.log.Warn("failed to record latency", zap.String("profile", profile.Name), zap.Error(err))
	}

	return &TestResult{Profile: profile, Latency: test}
}

// TestBatch tests profiles concurrently, bounded by the configured workers.
// Results come back fastest first with failures last.
func (t *Tester) TestBatch(ctx context.Context, profiles []*models.Profile, progress ProgressFunc) *BatchResult {
	startTime := time.Now()

	batch := &BatchResult{}
	results := make([]*TestResult, len(profiles))
	var mu sync.Mutex
	var completed int

	sem := semaphore.NewWeighted(t.config.Workers)
	var wg sync.WaitGroup

	for i, profile := range profiles {
		wg.Add(1)
		go func(idx int, p *models.Profile) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			result := t.TestSingle(ctx, p)
			results[idx] = result

			mu.Lock()
			completed++
			current := completed
			if result.Latency.Success {
				batch.Succeeded++
			} else {
				batch.Failed++
			}
			mu.Unlock()

			if progress != nil {
				progress(result, current, len(profiles))
			}
		}(i, profile)
	}

	wg.Wait()

	for _, r := range results {
		if r != nil {
			batch.Results = append(batch.Results, r)
			batch.Tested++
		}
	}

	sort.SliceStable(batch.Results, func(i, j int) bool {
		ri, rj := batch.Results[i].Latency, batch.Results[j].Latency
		if ri.Success != rj.Success {
			return ri.Success
		}
		if ri.Success {
			return *ri.LatencyMS < *rj.LatencyMS
		}
		return false
	})

	batch.Duration = time.Since(startTime)
	return batch
}
