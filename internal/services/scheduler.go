package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/docpageflow/internal/models"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrentPages = 5

// PageWorker analyzes one page. *PageAnalyzer satisfies it.
type PageWorker interface {
	Analyze(ctx context.Context, tc TaskContext, page models.PageImage) models.PageResult
}

// Scheduler runs a page worker over every page of a task with at most
// limit pages in flight. When Gate is set it additionally bounds the
// number of in-flight pages across all tasks sharing it.
type Scheduler struct {
	worker PageWorker
	gate   *semaphore.Weighted
}

func NewScheduler(worker PageWorker, globalLimit int) *Scheduler {
	s := &Scheduler{worker: worker}
	if globalLimit > 0 {
		s.gate = semaphore.NewWeighted(int64(globalLimit))
	}
	return s
}

// Run returns one result per page, ordered by page index regardless of
// completion order. onResult, when set, is called as each result lands.
// A failed page never cancels its siblings.
func (s *Scheduler) Run(ctx context.Context, tc TaskContext, pages []models.PageImage, limit int, onResult func(models.PageResult)) ([]models.PageResult, error) {
	if limit <= 0 {
		limit = DefaultMaxConcurrentPages
	}
	logCtx := slog.With("taskId", tc.TaskID, "pageCount", len(pages), "limit", limit)
	logCtx.Info("Starting page analysis.")

	slots := make([]*models.PageResult, len(pages))
	var mu sync.Mutex
	var violation error

	var eg errgroup.Group
	eg.SetLimit(limit)
	for _, page := range pages {
		eg.Go(func() error {
			if s.gate != nil {
				if err := s.gate.Acquire(ctx, 1); err != nil {
					return fmt.Errorf("page %d: %w", page.PageNumber, err)
				}
				defer s.gate.Release(1)
			}

			res := s.worker.Analyze(ctx, tc, page)
			res.PageNumber = page.PageNumber

			mu.Lock()
			idx := page.PageNumber - 1
			switch {
			case idx < 0 || idx >= len(slots):
				violation = &SchedulingInvariantError{TaskID: tc.TaskID, Detail: fmt.Sprintf("page %d outside 1..%d", page.PageNumber, len(slots))}
			case slots[idx] != nil:
				violation = &SchedulingInvariantError{TaskID: tc.TaskID, Detail: fmt.Sprintf("page %d produced twice", page.PageNumber)}
			default:
				slots[idx] = &res
			}
			mu.Unlock()

			if onResult != nil {
				onResult(res)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if violation != nil {
		return nil, violation
	}

	results := make([]models.PageResult, len(slots))
	for i, r := range slots {
		if r == nil {
			return nil, &SchedulingInvariantError{TaskID: tc.TaskID, Detail: fmt.Sprintf("no result for page %d", i+1)}
		}
		results[i] = *r
	}
	logCtx.Info("Page analysis finished.")
	return results, nil
}
