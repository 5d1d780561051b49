package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_CanTransition(t *testing.T) {
	all := []Status{StatusPending, StatusConverting, StatusConverted, StatusAnalyzing, StatusCompleted, StatusFailed}
	legal := map[[2]Status]bool{
		{StatusPending, StatusConverting}:   true,
		{StatusConverting, StatusConverted}: true,
		{StatusConverted, StatusAnalyzing}:  true,
		{StatusAnalyzing, StatusCompleted}:  true,
		{StatusPending, StatusFailed}:       true,
		{StatusConverting, StatusFailed}:    true,
		{StatusConverted, StatusFailed}:     true,
		{StatusAnalyzing, StatusFailed}:     true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]Status{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestTask_TransitionUpdatesTimestamp(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	task := NewTask("t1", "doc.pdf", "pdf", created)

	later := created.Add(time.Minute)
	require.NoError(t, task.Transition(StatusConverting, later))
	assert.Equal(t, StatusConverting, task.Status)
	assert.Equal(t, later, task.UpdatedAt)
	assert.Nil(t, task.CompletedAt)

	err := task.Transition(StatusAnalyzing, later.Add(time.Minute))
	require.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, StatusConverting, task.Status)
	assert.Equal(t, later, task.UpdatedAt, "rejected transition must not touch the timestamp")
}

func TestTask_TerminalStatesAbsorb(t *testing.T) {
	now := time.Now()
	task := NewTask("t1", "doc.pdf", "pdf", now)
	require.NoError(t, task.Fail("boom", now))
	assert.Equal(t, "boom", task.Error)
	require.NotNil(t, task.CompletedAt)

	for _, next := range []Status{StatusPending, StatusConverting, StatusCompleted, StatusFailed} {
		assert.ErrorIs(t, task.Transition(next, now), ErrIllegalTransition)
	}
}

func TestTask_SetTotalPagesOnce(t *testing.T) {
	task := NewTask("t1", "doc.pdf", "pdf", time.Now())
	assert.Equal(t, 0, task.PageCount())
	require.NoError(t, task.SetTotalPages(5))
	assert.Error(t, task.SetTotalPages(6))
	assert.Equal(t, 5, task.PageCount())
}

func TestTask_CloneIsDeep(t *testing.T) {
	task := NewTask("t1", "doc.pdf", "pdf", time.Now())
	require.NoError(t, task.SetTotalPages(2))
	page := 1
	task.CurrentPage = &page
	task.Results = []PageResult{{PageNumber: 1, Content: "a"}}

	c := task.Clone()
	*c.TotalPages = 9
	*c.CurrentPage = 9
	c.Results[0].Content = "changed"

	assert.Equal(t, 2, *task.TotalPages)
	assert.Equal(t, 1, *task.CurrentPage)
	assert.Equal(t, "a", task.Results[0].Content)
}

func TestResultFromTask_CollectsFailedPages(t *testing.T) {
	task := NewTask("t1", "doc.pdf", "pdf", time.Now())
	require.NoError(t, task.SetTotalPages(3))
	task.Results = []PageResult{
		{PageNumber: 1, Content: "a"},
		{PageNumber: 2, Error: "timeout"},
		{PageNumber: 3, Content: "c"},
	}

	res := ResultFromTask(task)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, []int{2}, res.FailedPages)
	assert.Len(t, res.Results, 3)
}
