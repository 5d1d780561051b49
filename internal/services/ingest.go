package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docpageflow/internal/gcp"
	"github.com/Lllllllleong/docpageflow/internal/models"
)

// GCSEvent is the payload of a storage object-finalized event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// Ingester runs the pipeline for documents dropped into a bucket.
type Ingester struct {
	manager  *TaskManager
	download func(ctx context.Context, bucket, object, destPath string) error
}

func NewIngester(manager *TaskManager, storageClient *storage.Client) *Ingester {
	return &Ingester{
		manager: manager,
		download: func(ctx context.Context, bucket, object, destPath string) error {
			return gcp.StreamGCSObject(ctx, storageClient, bucket, object, destPath)
		},
	}
}

// NewIngesterFromEnv builds the task manager and a storage client from the environment.
func NewIngesterFromEnv(ctx context.Context) (*Ingester, error) {
	manager, err := NewTaskManagerFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return NewIngester(manager, storageClient), nil
}

// Process downloads the object and runs it to a terminal state. Objects in
// unsupported formats are skipped without error. A FAILED task is reported
// in the response, not as an error, so the event is not redelivered.
func (i *Ingester) Process(ctx context.Context, e GCSEvent) (*models.IngestResponse, error) {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if _, err := DetectFormat(e.Name); err != nil {
		logCtx.Info("Skipping object in unsupported format.")
		return nil, nil
	}

	tempDir, err := os.MkdirTemp("", "document-ingest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	localPath := filepath.Join(tempDir, path.Base(e.Name))
	if err := i.download(ctx, e.Bucket, e.Name, localPath); err != nil {
		logCtx.Error("Failed to download source document", "error", err)
		return nil, err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open downloaded document: %w", err)
	}
	defer f.Close()

	task, err := i.manager.Process(ctx, SubmitRequest{FileName: path.Base(e.Name), Content: f})
	if err != nil {
		if errors.Is(err, ErrUnsupportedFormat) {
			return nil, nil
		}
		logCtx.Error("Failed to process document", "error", err)
		return nil, err
	}

	resp := &models.IngestResponse{
		TaskID:     task.TaskID,
		Status:     task.Status,
		TotalPages: task.PageCount(),
		Error:      task.Error,
	}
	logCtx.Info("Document processed.", "taskId", resp.TaskID, "status", resp.Status, "totalPages", resp.TotalPages)
	return resp, nil
}
