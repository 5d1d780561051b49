package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docpageflow/internal/gcp"
	"github.com/Lllllllleong/docpageflow/internal/models"
	"google.golang.org/api/iterator"
)

// PageStore persists page images and task results. Every object is
// write-once: a second write of the same key leaves the first in place.
type PageStore interface {
	PutPage(ctx context.Context, taskID string, page int, data []byte) (string, error)
	GetPage(ctx context.Context, taskID string, page int) ([]byte, error)
	ListPages(ctx context.Context, taskID string) ([]int, error)
	PutResult(ctx context.Context, result *models.TaskResult) error
}

func pageObjectName(taskID string, page int) string {
	return fmt.Sprintf("%s/images/page_%d.png", taskID, page)
}

// parsePageObject returns the page index encoded in a page object's base name.
func parsePageObject(name string) (int, bool) {
	var page int
	if _, err := fmt.Sscanf(path.Base(name), "page_%d.png", &page); err != nil || page <= 0 {
		return 0, false
	}
	return page, true
}

func resultObjectName(taskID string) string {
	return fmt.Sprintf("%s/result.json", taskID)
}

// LocalPageStore keeps pages under <root>/<task>/images and the result at <root>/<task>/result.json.
type LocalPageStore struct {
	root string
}

func NewLocalPageStore(root string) (*LocalPageStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output dir %s: %w", root, err)
	}
	return &LocalPageStore{root: root}, nil
}

func (s *LocalPageStore) PutPage(ctx context.Context, taskID string, page int, data []byte) (string, error) {
	fullPath := filepath.Join(s.root, filepath.FromSlash(pageObjectName(taskID, page)))
	if err := writeOnce(fullPath, data); err != nil {
		return "", err
	}
	return fullPath, nil
}

func (s *LocalPageStore) GetPage(ctx context.Context, taskID string, page int) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(pageObjectName(taskID, page))))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("page %d of task %s: %w", page, taskID, ErrPageNotReady)
		}
		return nil, fmt.Errorf("failed to read page %d of task %s: %w", page, taskID, err)
	}
	return data, nil
}

func (s *LocalPageStore) ListPages(ctx context.Context, taskID string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, taskID, "images"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list pages of task %s: %w", taskID, err)
	}
	var pages []int
	for _, e := range entries {
		if page, ok := parsePageObject(e.Name()); ok {
			pages = append(pages, page)
		}
	}
	sort.Ints(pages)
	return pages, nil
}

func (s *LocalPageStore) PutResult(ctx context.Context, result *models.TaskResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result for task %s: %w", result.TaskID, err)
	}
	return writeOnce(filepath.Join(s.root, filepath.FromSlash(resultObjectName(result.TaskID))), data)
}

func writeOnce(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create dir for %s: %w", name, err)
	}
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			slog.Info("File already exists, skipping write.", "path", name)
			return nil
		}
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	return nil
}

// GCSPageStore keeps the same layout as LocalPageStore inside a bucket.
type GCSPageStore struct {
	bucket *storage.BucketHandle
	name   string
}

func NewGCSPageStore(client *storage.Client, bucket string) *GCSPageStore {
	return &GCSPageStore{bucket: client.Bucket(bucket), name: bucket}
}

func (s *GCSPageStore) PutPage(ctx context.Context, taskID string, page int, data []byte) (string, error) {
	objectName := pageObjectName(taskID, page)
	if err := gcp.SaveToGCSAtomically(ctx, s.bucket, objectName, "image/png", data); err != nil {
		return "", fmt.Errorf("page %d: %w", page, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, objectName), nil
}

func (s *GCSPageStore) GetPage(ctx context.Context, taskID string, page int) ([]byte, error) {
	data, err := gcp.ReadGCSObject(ctx, s.bucket, pageObjectName(taskID, page))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("page %d of task %s: %w", page, taskID, ErrPageNotReady)
		}
		return nil, err
	}
	return data, nil
}

func (s *GCSPageStore) ListPages(ctx context.Context, taskID string) ([]int, error) {
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: taskID + "/images/"})
	var pages []int
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list pages of task %s: %w", taskID, err)
		}
		if page, ok := parsePageObject(attrs.Name); ok {
			pages = append(pages, page)
		}
	}
	sort.Ints(pages)
	return pages, nil
}

func (s *GCSPageStore) PutResult(ctx context.Context, result *models.TaskResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result for task %s: %w", result.TaskID, err)
	}
	return gcp.SaveToGCSAtomically(ctx, s.bucket, resultObjectName(result.TaskID), "application/json", data)
}
