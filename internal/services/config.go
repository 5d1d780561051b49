package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/docpageflow/internal/gcp"
)

// Config holds all configuration for the page extraction pipeline.
type Config struct {
	ProjectID      string
	VertexAIRegion string
	ModelName      string

	UploadDir  string
	OutputDir  string
	PageBucket string

	TaskStore           string
	FirestoreDatabase   string
	FirestoreCollection string

	MaxConcurrentPages       int
	GlobalMaxConcurrentPages int
	MaxPageFailures          int
	Retry                    RetryPolicy

	RenderDPI   float64
	SofficePath string

	WorkflowID       string
	WorkflowLocation string
}

// LoadConfig loads and validates all necessary environment variables.
func LoadConfig() (*Config, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}

	cfg := &Config{
		ProjectID:           projectID,
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		ModelName:           gcp.GetEnv("MODEL_NAME", ""),
		UploadDir:           gcp.GetEnv("UPLOAD_DIR", "uploads"),
		OutputDir:           gcp.GetEnv("OUTPUT_DIR", "outputs"),
		PageBucket:          gcp.GetEnv("PAGE_BUCKET", ""),
		TaskStore:           gcp.GetEnv("TASK_STORE", "memory"),
		FirestoreDatabase:   gcp.GetEnv("FIRESTORE_DATABASE", ""),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", DefaultTaskCollection),
		SofficePath:         gcp.GetEnv("SOFFICE_PATH", DefaultSofficePath),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}

	var err error
	if cfg.MaxConcurrentPages, err = envInt("MAX_CONCURRENT_PAGES", DefaultMaxConcurrentPages); err != nil {
		return nil, err
	}
	if cfg.GlobalMaxConcurrentPages, err = envInt("GLOBAL_MAX_CONCURRENT_PAGES", 0); err != nil {
		return nil, err
	}
	if cfg.MaxPageFailures, err = envInt("MAX_PAGE_FAILURES", 0); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxAttempts, err = envInt("ANALYZE_MAX_ATTEMPTS", DefaultMaxAttempts); err != nil {
		return nil, err
	}
	if cfg.Retry.BaseDelay, err = envDuration("ANALYZE_BASE_DELAY", DefaultBaseDelay); err != nil {
		return nil, err
	}
	if cfg.Retry.MaxDelay, err = envDuration("ANALYZE_MAX_DELAY", DefaultMaxDelay); err != nil {
		return nil, err
	}
	if cfg.Retry.RateLimitCooldown, err = envDuration("RATE_LIMIT_COOLDOWN", DefaultRateLimitCooldown); err != nil {
		return nil, err
	}
	if cfg.Retry.CallTimeout, err = envDuration("ANALYZE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	dpi, err := envInt("RENDER_DPI", DefaultRenderDPI)
	if err != nil {
		return nil, err
	}
	cfg.RenderDPI = float64(dpi)

	switch {
	case cfg.MaxConcurrentPages < 1:
		return nil, fmt.Errorf("MAX_CONCURRENT_PAGES must be at least 1, got %d", cfg.MaxConcurrentPages)
	case cfg.Retry.MaxAttempts < 1:
		return nil, fmt.Errorf("ANALYZE_MAX_ATTEMPTS must be at least 1, got %d", cfg.Retry.MaxAttempts)
	case cfg.TaskStore != "memory" && cfg.TaskStore != "firestore":
		return nil, fmt.Errorf("TASK_STORE must be memory or firestore, got %q", cfg.TaskStore)
	case cfg.RenderDPI <= 0:
		return nil, fmt.Errorf("RENDER_DPI must be positive, got %v", cfg.RenderDPI)
	}
	return cfg, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return v, nil
}

// NewTaskManagerFromEnv builds the full pipeline from environment configuration.
func NewTaskManagerFromEnv(ctx context.Context) (*TaskManager, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewTaskManagerFromConfig(ctx, cfg)
}

// NewTaskManagerFromConfig creates the clients cfg asks for and wires them into a TaskManager.
func NewTaskManagerFromConfig(ctx context.Context, cfg *Config) (*TaskManager, error) {
	var pages PageStore
	if cfg.PageBucket != "" {
		storageClient, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		pages = NewGCSPageStore(storageClient, cfg.PageBucket)
	} else {
		local, err := NewLocalPageStore(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		pages = local
	}

	var store TaskStore = NewMemoryTaskStore()
	if cfg.TaskStore == "firestore" {
		firestoreClient, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID, cfg.FirestoreDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore client: %w", err)
		}
		store = NewFirestoreTaskStore(firestoreClient, cfg.FirestoreCollection)
	}

	vertexClient, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.ModelName)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	var notifier CompletionNotifier
	if cfg.WorkflowID != "" {
		wn, err := NewWorkflowNotifier(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return nil, err
		}
		notifier = wn
	}

	pdf := NewPDFRasterizer(pages, cfg.RenderDPI)
	m := NewTaskManager(Dependencies{
		Store: store,
		Pages: pages,
		Rasterizer: &FormatRasterizer{
			PDF:    pdf,
			Office: NewOfficeRasterizer(cfg.SofficePath, pdf),
		},
		Analyzer: NewPageAnalyzer(NewVertexExtractor(vertexClient), pages, cfg.Retry),
		Notifier: notifier,
	}, ManagerOptions{
		UploadDir:                cfg.UploadDir,
		MaxConcurrentPages:       cfg.MaxConcurrentPages,
		GlobalMaxConcurrentPages: cfg.GlobalMaxConcurrentPages,
		MaxPageFailures:          cfg.MaxPageFailures,
	})
	slog.Info("Task manager initialized.",
		"taskStore", cfg.TaskStore,
		"pageBucket", cfg.PageBucket,
		"maxConcurrentPages", cfg.MaxConcurrentPages,
		"workflowId", cfg.WorkflowID,
	)
	return m, nil
}
