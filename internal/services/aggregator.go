package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Lllllllleong/docpageflow/internal/models"
)

// Aggregator assembles per-page results into a task outcome.
//
// MaxPageFailures is the number of failed pages a task tolerates. The zero
// value fails the task as soon as one page exhausts its retries. A negative
// value tolerates any number of failed pages.
type Aggregator struct {
	MaxPageFailures int
}

// Aggregation is the verdict for a task whose pages have all been analyzed.
type Aggregation struct {
	Status      models.Status
	Results     []models.PageResult
	FailedPages []int
	Error       string
}

// Aggregate sorts results by page index and applies the failure threshold.
// A gap or duplicate in the page indices is a SchedulingInvariantError.
func (a Aggregator) Aggregate(taskID string, totalPages int, results []models.PageResult) (*Aggregation, error) {
	sorted := make([]models.PageResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PageNumber < sorted[j].PageNumber
	})

	if len(sorted) != totalPages {
		return nil, &SchedulingInvariantError{TaskID: taskID, Detail: fmt.Sprintf("%d results for %d pages", len(sorted), totalPages)}
	}
	for i, r := range sorted {
		if r.PageNumber != i+1 {
			return nil, &SchedulingInvariantError{TaskID: taskID, Detail: fmt.Sprintf("expected page %d, found page %d", i+1, r.PageNumber)}
		}
	}

	agg := &Aggregation{Status: models.StatusCompleted, Results: sorted}
	var reasons []string
	for _, r := range sorted {
		if r.Failed() {
			agg.FailedPages = append(agg.FailedPages, r.PageNumber)
			reasons = append(reasons, fmt.Sprintf("page %d: %s", r.PageNumber, r.Error))
		}
	}
	if a.MaxPageFailures >= 0 && len(agg.FailedPages) > a.MaxPageFailures {
		agg.Status = models.StatusFailed
		agg.Error = fmt.Sprintf("%d of %d pages failed: %s", len(agg.FailedPages), totalPages, strings.Join(reasons, "; "))
	}
	return agg, nil
}
