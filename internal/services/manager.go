package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Lllllllleong/docpageflow/internal/gcp"
	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// Attempts for the terminal task write before the task is failed instead.
const (
	outcomeWriteAttempts = 3
	outcomeWriteDelay    = 200 * time.Millisecond
)

// SubmitRequest describes an uploaded document.
type SubmitRequest struct {
	FileName     string
	Content      io.Reader
	Mode         string
	Language     string
	DocumentType string
}

// Dependencies are the collaborators a TaskManager drives.
type Dependencies struct {
	Store      TaskStore
	Pages      PageStore
	Rasterizer Rasterizer
	Analyzer   PageWorker
	// Notifier is optional.
	Notifier CompletionNotifier
}

// ManagerOptions tune the pipeline.
type ManagerOptions struct {
	UploadDir                string
	MaxConcurrentPages       int
	GlobalMaxConcurrentPages int
	MaxPageFailures          int
}

type taskHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TaskManager owns the task lifecycle. Each task is advanced by exactly one
// pipeline goroutine; everything else reads snapshots from the store.
type TaskManager struct {
	store      TaskStore
	pages      PageStore
	rasterizer Rasterizer
	analyzer   PageWorker
	scheduler  *Scheduler
	aggregator Aggregator
	notifier   CompletionNotifier

	uploadDir          string
	maxConcurrentPages int
	outcomeDelay       time.Duration
	now                func() time.Time
	newID              func() string

	mu      sync.Mutex
	handles map[string]*taskHandle
	wg      sync.WaitGroup
}

func NewTaskManager(deps Dependencies, opts ManagerOptions) *TaskManager {
	if opts.MaxConcurrentPages <= 0 {
		opts.MaxConcurrentPages = DefaultMaxConcurrentPages
	}
	if opts.UploadDir == "" {
		opts.UploadDir = os.TempDir()
	}
	return &TaskManager{
		store:              deps.Store,
		pages:              deps.Pages,
		rasterizer:         deps.Rasterizer,
		analyzer:           deps.Analyzer,
		scheduler:          NewScheduler(deps.Analyzer, opts.GlobalMaxConcurrentPages),
		aggregator:         Aggregator{MaxPageFailures: opts.MaxPageFailures},
		notifier:           deps.Notifier,
		uploadDir:          opts.UploadDir,
		maxConcurrentPages: opts.MaxConcurrentPages,
		outcomeDelay:       outcomeWriteDelay,
		now:                func() time.Time { return time.Now().UTC() },
		newID:              uuid.NewString,
		handles:            make(map[string]*taskHandle),
	}
}

// Submit stores the upload, records a PENDING task and starts the pipeline
// in the background. The returned task is a snapshot taken before the
// pipeline starts.
func (m *TaskManager) Submit(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	task, path, err := m.createTask(ctx, req)
	if err != nil {
		return nil, err
	}
	runCtx, h := m.track(task.TaskID)
	go func() {
		defer m.untrack(task.TaskID, h)
		m.run(runCtx, task.TaskID, path)
	}()
	return task, nil
}

// Process creates a task and runs the pipeline to a terminal state before
// returning the final snapshot.
func (m *TaskManager) Process(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	task, path, err := m.createTask(ctx, req)
	if err != nil {
		return nil, err
	}
	runCtx, h := m.track(task.TaskID)
	stop := context.AfterFunc(ctx, h.cancel)
	defer stop()
	m.run(runCtx, task.TaskID, path)
	m.untrack(task.TaskID, h)
	return m.store.Get(context.WithoutCancel(ctx), task.TaskID)
}

func (m *TaskManager) createTask(ctx context.Context, req SubmitRequest) (*models.Task, string, error) {
	format, err := DetectFormat(req.FileName)
	if err != nil {
		return nil, "", err
	}
	if !gcp.ValidMode(req.Mode) {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}

	id := m.newID()
	path, err := m.saveUpload(id, req)
	if err != nil {
		return nil, "", err
	}

	task := models.NewTask(id, filepath.Base(req.FileName), format, m.now())
	task.Mode = req.Mode
	task.Language = req.Language
	task.DocumentType = req.DocumentType
	if err := m.store.Create(ctx, task); err != nil {
		_ = os.Remove(path)
		return nil, "", fmt.Errorf("failed to record task: %w", err)
	}
	slog.Info("Task created.", "taskId", id, "fileName", task.FileName, "format", format)
	return task.Clone(), path, nil
}

func (m *TaskManager) saveUpload(id string, req SubmitRequest) (string, error) {
	if err := os.MkdirAll(m.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(m.uploadDir, id+filepath.Ext(req.FileName))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, req.Content); err != nil {
		return "", fmt.Errorf("failed to save upload: %w", err)
	}
	return path, nil
}

func (m *TaskManager) track(taskID string) (context.Context, *taskHandle) {
	ctx, cancel := context.WithCancel(context.Background())
	h := &taskHandle{cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.handles[taskID] = h
	m.mu.Unlock()
	m.wg.Add(1)
	return ctx, h
}

func (m *TaskManager) untrack(taskID string, h *taskHandle) {
	m.mu.Lock()
	if m.handles[taskID] == h {
		delete(m.handles, taskID)
	}
	m.mu.Unlock()
	h.cancel()
	close(h.done)
	m.wg.Done()
}

func (m *TaskManager) handle(taskID string) *taskHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[taskID]
}

// run drives one task from PENDING to a terminal state.
func (m *TaskManager) run(ctx context.Context, taskID, path string) {
	logCtx := slog.With("taskId", taskID)
	// Store writes must land even after the task is cancelled.
	writeCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Pipeline panicked.", "panic", r)
			m.fail(writeCtx, logCtx, taskID, fmt.Errorf("internal error: %v", r))
		}
	}()

	// 1. Claim the task. A failed write still has to leave it terminal.
	task, err := m.advance(writeCtx, taskID, func(t *models.Task) error {
		return t.Transition(models.StatusConverting, m.now())
	})
	if err != nil {
		m.fail(writeCtx, logCtx, taskID, fmt.Errorf("failed to start conversion: %w", err))
		return
	}

	// 2. Rasterize and make sure every declared page actually landed.
	raster, err := m.rasterizer.Rasterize(ctx, Document{
		TaskID:   taskID,
		FileName: task.FileName,
		Path:     path,
		Format:   task.Format,
	})
	if err == nil {
		err = checkRasterization(raster)
	}
	if err == nil {
		err = m.checkStoredPages(ctx, taskID, raster.DeclaredPages)
	}
	if err != nil {
		m.fail(writeCtx, logCtx, taskID, m.cancelledOr(ctx, err))
		return
	}

	// 3. Publish the page count, then open the analysis phase.
	if _, err := m.advance(writeCtx, taskID, func(t *models.Task) error {
		if err := t.SetTotalPages(raster.DeclaredPages); err != nil {
			return err
		}
		return t.Transition(models.StatusConverted, m.now())
	}); err != nil {
		m.fail(writeCtx, logCtx, taskID, err)
		return
	}
	logCtx.Info("Document converted.", "totalPages", raster.DeclaredPages)

	task, err = m.advance(writeCtx, taskID, func(t *models.Task) error {
		return t.Transition(models.StatusAnalyzing, m.now())
	})
	if err != nil {
		m.fail(writeCtx, logCtx, taskID, err)
		return
	}

	// 4. Fan out over the pages. Progress writes are best effort.
	tc := TaskContext{
		TaskID:       taskID,
		FileName:     task.FileName,
		TotalPages:   raster.DeclaredPages,
		Mode:         task.Mode,
		Language:     task.Language,
		DocumentType: task.DocumentType,
	}
	results, err := m.scheduler.Run(ctx, tc, raster.Pages, m.maxConcurrentPages, func(r models.PageResult) {
		page := r.PageNumber
		if _, err := m.store.Update(writeCtx, taskID, func(t *models.Task) error {
			t.CompletedPages++
			t.CurrentPage = &page
			t.UpdatedAt = m.now()
			return nil
		}); err != nil {
			logCtx.Warn("Failed to record page progress.", "page", page, "error", err)
		}
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		m.fail(writeCtx, logCtx, taskID, m.cancelledOr(ctx, err))
		return
	}

	// 5. Aggregate and record the outcome.
	agg, err := m.aggregator.Aggregate(taskID, raster.DeclaredPages, results)
	if err != nil {
		m.fail(writeCtx, logCtx, taskID, err)
		return
	}
	final, err := m.recordOutcome(writeCtx, logCtx, taskID, func(t *models.Task) error {
		t.Results = agg.Results
		t.CurrentPage = nil
		if agg.Status == models.StatusFailed {
			return t.Fail(agg.Error, m.now())
		}
		return t.Transition(models.StatusCompleted, m.now())
	})
	if err != nil {
		m.fail(writeCtx, logCtx, taskID, fmt.Errorf("failed to record task outcome: %w", err))
		return
	}
	logCtx.Info("Task finished.", "status", final.Status, "failedPages", agg.FailedPages)

	// 6. Persist result.json and notify downstream.
	m.finalize(writeCtx, logCtx, final)
}

// recordOutcome applies the terminal update, retrying a bounded number of times.
func (m *TaskManager) recordOutcome(ctx context.Context, logCtx *slog.Logger, taskID string, fn func(*models.Task) error) (*models.Task, error) {
	var final *models.Task
	err := retry.Do(func() error {
		t, err := m.advance(ctx, taskID, fn)
		if err != nil {
			return err
		}
		final = t
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(outcomeWriteAttempts),
		retry.Delay(m.outcomeDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logCtx.Warn("Failed to record task outcome.", "attempt", n+1, "maxAttempts", outcomeWriteAttempts, "error", err)
		}),
	)
	return final, err
}

func (m *TaskManager) advance(ctx context.Context, taskID string, fn func(*models.Task) error) (*models.Task, error) {
	return m.store.Update(ctx, taskID, fn)
}

// checkStoredPages verifies that the page store holds exactly the pages 1..n.
func (m *TaskManager) checkStoredPages(ctx context.Context, taskID string, n int) error {
	stored, err := m.pages.ListPages(ctx, taskID)
	if err != nil {
		return err
	}
	if len(stored) != n {
		return &ConversionError{Message: fmt.Sprintf("page store holds %d images for %d pages", len(stored), n)}
	}
	for i, p := range stored {
		if p != i+1 {
			return &ConversionError{Message: fmt.Sprintf("page store is missing page %d", i+1)}
		}
	}
	return nil
}

func (m *TaskManager) cancelledOr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ErrTaskCancelled
	}
	return err
}

// fail records err verbatim and moves the task to FAILED.
func (m *TaskManager) fail(ctx context.Context, logCtx *slog.Logger, taskID string, cause error) {
	logCtx.Error("Task failed.", "error", cause)
	final, err := m.advance(ctx, taskID, func(t *models.Task) error {
		t.CurrentPage = nil
		return t.Fail(cause.Error(), m.now())
	})
	if err != nil {
		logCtx.Error("CRITICAL: Failed to update task status to FAILED after a processing error.", "updateError", err)
		return
	}
	m.finalize(ctx, logCtx, final)
}

// finalize persists the terminal result and notifies downstream. Neither
// step can change the task's outcome.
func (m *TaskManager) finalize(ctx context.Context, logCtx *slog.Logger, task *models.Task) {
	result := models.ResultFromTask(task)
	if err := m.pages.PutResult(ctx, result); err != nil {
		logCtx.Error("Failed to persist task result.", "error", err)
	}
	if m.notifier != nil {
		if err := m.notifier.Notify(ctx, result); err != nil {
			logCtx.Error("Failed to notify task completion.", "error", err)
		}
	}
}

// Status returns a result-free snapshot of the task.
func (m *TaskManager) Status(ctx context.Context, taskID string) (*models.TaskStatusView, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task.StatusView(), nil
}

// Result returns the materialized result of a COMPLETED task.
func (m *TaskManager) Result(ctx context.Context, taskID string) (*models.TaskResult, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: task %s is %s", ErrTaskNotCompleted, taskID, task.Status)
	}
	return models.ResultFromTask(task), nil
}

func (m *TaskManager) convertedTask(ctx context.Context, taskID string, page int) (*models.Task, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.TotalPages == nil {
		return nil, fmt.Errorf("%w: task %s is %s", ErrPageNotReady, taskID, task.Status)
	}
	if page < 1 || page > *task.TotalPages {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, *task.TotalPages)
	}
	return task, nil
}

// PageImage returns the stored PNG of one page once the task is converted.
func (m *TaskManager) PageImage(ctx context.Context, taskID string, page int) ([]byte, error) {
	if _, err := m.convertedTask(ctx, taskID, page); err != nil {
		return nil, err
	}
	return m.pages.GetPage(ctx, taskID, page)
}

// AnalyzePage runs a one-off analysis of a single converted page. The task
// record is not modified. An empty mode uses the task's own mode.
func (m *TaskManager) AnalyzePage(ctx context.Context, taskID string, page int, mode string) (*models.PageResult, error) {
	if !gcp.ValidMode(mode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	task, err := m.convertedTask(ctx, taskID, page)
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = task.Mode
	}
	res := m.analyzer.Analyze(ctx, TaskContext{
		TaskID:       taskID,
		FileName:     task.FileName,
		TotalPages:   *task.TotalPages,
		Mode:         mode,
		Language:     task.Language,
		DocumentType: task.DocumentType,
	}, models.PageImage{TaskID: taskID, PageNumber: page, MIMEType: "image/png"})
	return &res, nil
}

// Wait blocks until the task's pipeline has finished or ctx is done, then
// returns the latest snapshot.
func (m *TaskManager) Wait(ctx context.Context, taskID string) (*models.Task, error) {
	if h := m.handle(taskID); h != nil {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.store.Get(ctx, taskID)
}

// Cancel stops a running task. The pipeline records FAILED with
// "task cancelled". Cancelling a finished task is a no-op.
func (m *TaskManager) Cancel(ctx context.Context, taskID string) error {
	if h := m.handle(taskID); h != nil {
		h.cancel()
		return nil
	}
	_, err := m.store.Get(ctx, taskID)
	return err
}

// Shutdown waits for every running pipeline. If ctx ends first the
// remaining tasks are cancelled and awaited.
func (m *TaskManager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	for _, h := range m.handles {
		h.cancel()
	}
	m.mu.Unlock()
	<-done
	return ctx.Err()
}
