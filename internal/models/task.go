package models

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConverting Status = "CONVERTING"
	StatusConverted  Status = "CONVERTED"
	StatusAnalyzing  Status = "ANALYZING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// ErrIllegalTransition is returned when a status change is not in the transition table.
var ErrIllegalTransition = errors.New("illegal status transition")

// transitions lists the legal forward moves. FAILED is handled separately:
// it is reachable from every non-terminal state.
var transitions = map[Status]Status{
	StatusPending:    StatusConverting,
	StatusConverting: StatusConverted,
	StatusConverted:  StatusAnalyzing,
	StatusAnalyzing:  StatusCompleted,
}

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return transitions[s] == next
}

// Task is the processing record of one submitted document.
type Task struct {
	TaskID         string       `json:"task_id" firestore:"taskId"`
	FileName       string       `json:"file_name" firestore:"fileName"`
	Format         string       `json:"format" firestore:"format"`
	Mode           string       `json:"mode,omitempty" firestore:"mode,omitempty"`
	Language       string       `json:"language,omitempty" firestore:"language,omitempty"`
	DocumentType   string       `json:"document_type,omitempty" firestore:"documentType,omitempty"`
	Status         Status       `json:"status" firestore:"status"`
	CreatedAt      time.Time    `json:"created_at" firestore:"createdAt"`
	UpdatedAt      time.Time    `json:"updated_at" firestore:"updatedAt"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty" firestore:"completedAt,omitempty"`
	TotalPages     *int         `json:"total_pages,omitempty" firestore:"totalPages,omitempty"`
	CurrentPage    *int         `json:"current_page,omitempty" firestore:"currentPage,omitempty"`
	CompletedPages int          `json:"completed_pages" firestore:"completedPages"`
	Error          string       `json:"error,omitempty" firestore:"error,omitempty"`
	Results        []PageResult `json:"results,omitempty" firestore:"results,omitempty"`
}

// NewTask returns a PENDING task created at now.
func NewTask(id, fileName, format string, now time.Time) *Task {
	return &Task{
		TaskID:    id,
		FileName:  fileName,
		Format:    format,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the task to next. Status and UpdatedAt change together.
func (t *Task) Transition(next Status, now time.Time) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.Status, next)
	}
	t.Status = next
	t.UpdatedAt = now
	if next.IsTerminal() {
		done := now
		t.CompletedAt = &done
	}
	return nil
}

// Fail moves the task to FAILED and records msg.
func (t *Task) Fail(msg string, now time.Time) error {
	if err := t.Transition(StatusFailed, now); err != nil {
		return err
	}
	t.Error = msg
	return nil
}

// SetTotalPages records the page count. It may only be set once.
func (t *Task) SetTotalPages(n int) error {
	if t.TotalPages != nil {
		return fmt.Errorf("total pages already set to %d", *t.TotalPages)
	}
	t.TotalPages = &n
	return nil
}

// PageCount returns TotalPages or 0 when it is not known yet.
func (t *Task) PageCount() int {
	if t.TotalPages == nil {
		return 0
	}
	return *t.TotalPages
}

// Clone returns a deep copy so readers never share memory with the writer.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.TotalPages != nil {
		n := *t.TotalPages
		c.TotalPages = &n
	}
	if t.CurrentPage != nil {
		n := *t.CurrentPage
		c.CurrentPage = &n
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.Results != nil {
		c.Results = make([]PageResult, len(t.Results))
		copy(c.Results, t.Results)
	}
	return &c
}

// StatusView is the result-free projection returned by status queries.
func (t *Task) StatusView() *TaskStatusView {
	c := t.Clone()
	return &TaskStatusView{
		TaskID:         c.TaskID,
		FileName:       c.FileName,
		Status:         c.Status,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
		TotalPages:     c.TotalPages,
		CurrentPage:    c.CurrentPage,
		CompletedPages: c.CompletedPages,
		Error:          c.Error,
	}
}

// TaskStatusView is what get_status returns.
type TaskStatusView struct {
	TaskID         string    `json:"task_id"`
	FileName       string    `json:"file_name"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	TotalPages     *int      `json:"total_pages,omitempty"`
	CurrentPage    *int      `json:"current_page,omitempty"`
	CompletedPages int       `json:"completed_pages"`
	Error          string    `json:"error,omitempty"`
}
