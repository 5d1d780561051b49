package services

import (
	"testing"

	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pageResults(failed ...int) []models.PageResult {
	isFailed := map[int]bool{}
	for _, p := range failed {
		isFailed[p] = true
	}
	results := make([]models.PageResult, 4)
	for i := range results {
		results[i] = models.PageResult{PageNumber: i + 1, Content: "ok", Attempts: 1}
		if isFailed[i+1] {
			results[i] = models.PageResult{PageNumber: i + 1, Attempts: 3, Error: "quota exceeded"}
		}
	}
	return results
}

func TestAggregator_SortsResults(t *testing.T) {
	in := pageResults()
	in[0], in[3] = in[3], in[0]

	agg, err := Aggregator{}.Aggregate("t1", 4, in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, agg.Status)
	for i, r := range agg.Results {
		assert.Equal(t, i+1, r.PageNumber)
	}
	assert.Equal(t, 4, in[0].PageNumber, "input must not be reordered")
}

func TestAggregator_Threshold(t *testing.T) {
	tests := []struct {
		name       string
		max        int
		failed     []int
		wantStatus models.Status
	}{
		{"default fails on one page", 0, []int{3}, models.StatusFailed},
		{"default with no failures", 0, nil, models.StatusCompleted},
		{"tolerates up to limit", 2, []int{1, 3}, models.StatusCompleted},
		{"exceeds limit", 1, []int{1, 3}, models.StatusFailed},
		{"negative tolerates all", -1, []int{1, 2, 3, 4}, models.StatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := Aggregator{MaxPageFailures: tt.max}.Aggregate("t1", 4, pageResults(tt.failed...))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, agg.Status)
			assert.Equal(t, tt.failed, agg.FailedPages)
			if tt.wantStatus == models.StatusFailed {
				assert.Contains(t, agg.Error, "quota exceeded")
			} else {
				assert.Empty(t, agg.Error)
			}
		})
	}
}

func TestAggregator_GapsAndDuplicates(t *testing.T) {
	var invErr *SchedulingInvariantError

	_, err := Aggregator{}.Aggregate("t1", 5, pageResults())
	assert.ErrorAs(t, err, &invErr)

	dup := pageResults()
	dup[3].PageNumber = 3
	_, err = Aggregator{}.Aggregate("t1", 4, dup)
	assert.ErrorAs(t, err, &invErr)
}
