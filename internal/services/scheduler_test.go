package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepyWorker sleeps a random short time per page and tracks peak concurrency.
type sleepyWorker struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	failPage int
}

func (w *sleepyWorker) Analyze(ctx context.Context, tc TaskContext, page models.PageImage) models.PageResult {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		p := w.peak.Load()
		if n <= p || w.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(time.Duration(rand.Intn(15)+1) * time.Millisecond)
	if page.PageNumber == w.failPage {
		return models.PageResult{PageNumber: page.PageNumber, Attempts: 3, Error: "extraction failed"}
	}
	return models.PageResult{PageNumber: page.PageNumber, Content: fmt.Sprintf("content %d", page.PageNumber), Attempts: 1}
}

func TestScheduler_ResultsOrderedByPage(t *testing.T) {
	s := NewScheduler(&sleepyWorker{}, 0)

	results, err := s.Run(context.Background(), TaskContext{TaskID: "t1"}, pageImages("t1", 12), 4, nil)
	require.NoError(t, err)
	require.Len(t, results, 12)
	for i, r := range results {
		assert.Equal(t, i+1, r.PageNumber)
		assert.Equal(t, fmt.Sprintf("content %d", i+1), r.Content)
	}
}

func TestScheduler_RespectsConcurrencyLimit(t *testing.T) {
	w := &sleepyWorker{}
	s := NewScheduler(w, 0)

	_, err := s.Run(context.Background(), TaskContext{TaskID: "t1"}, pageImages("t1", 20), 3, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, w.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, w.peak.Load(), int32(1))
}

func TestScheduler_GlobalGateBoundsAllTasks(t *testing.T) {
	w := &sleepyWorker{}
	s := NewScheduler(w, 2)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.Run(context.Background(), TaskContext{TaskID: id}, pageImages(id, 6), 3, nil)
			assert.NoError(t, err)
		}(fmt.Sprintf("t%d", i))
	}
	wg.Wait()
	assert.LessOrEqual(t, w.peak.Load(), int32(2))
}

func TestScheduler_PageFailureDoesNotStopSiblings(t *testing.T) {
	s := NewScheduler(&sleepyWorker{failPage: 2}, 0)

	var mu sync.Mutex
	var landed []int
	results, err := s.Run(context.Background(), TaskContext{TaskID: "t1"}, pageImages("t1", 3), 2, func(r models.PageResult) {
		mu.Lock()
		landed = append(landed, r.PageNumber)
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.False(t, results[0].Failed())
	assert.True(t, results[1].Failed())
	assert.False(t, results[2].Failed())
	assert.ElementsMatch(t, []int{1, 2, 3}, landed)
}

func TestScheduler_DuplicatePageIsInvariantViolation(t *testing.T) {
	s := NewScheduler(&sleepyWorker{}, 0)
	pages := pageImages("t1", 3)
	pages[2].PageNumber = 2

	_, err := s.Run(context.Background(), TaskContext{TaskID: "t1"}, pages, 2, nil)
	var invErr *SchedulingInvariantError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "t1", invErr.TaskID)
}

func TestScheduler_CancelledContextWhileGated(t *testing.T) {
	s := NewScheduler(&sleepyWorker{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx, TaskContext{TaskID: "t1"}, pageImages("t1", 2), 2, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
