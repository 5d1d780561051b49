package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lllllllleong/docpageflow/internal/models"
)

// TaskStore holds task records. Get returns a snapshot the caller may keep;
// Update runs fn with exclusive access to the stored task and persists the
// result unless fn returns an error.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task) error
	Get(ctx context.Context, taskID string) (*models.Task, error)
	Update(ctx context.Context, taskID string, fn func(*models.Task) error) (*models.Task, error)
}

// MemoryTaskStore keeps tasks for the lifetime of the process.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
}

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{tasks: make(map[string]*models.Task)}
}

func (s *MemoryTaskStore) Create(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.TaskID]; ok {
		return fmt.Errorf("task %s already exists", task.TaskID)
	}
	s.tasks[task.TaskID] = task.Clone()
	return nil
}

func (s *MemoryTaskStore) Get(ctx context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t.Clone(), nil
}

func (s *MemoryTaskStore) Update(ctx context.Context, taskID string, fn func(*models.Task) error) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	working := t.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	s.tasks[taskID] = working
	return working.Clone(), nil
}
