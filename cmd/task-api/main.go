package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/docpageflow/internal/gcp"
	"github.com/Lllllllleong/docpageflow/internal/services"
	"github.com/joho/godotenv"
)

var (
	router  http.Handler
	manager atomic.Pointer[services.TaskManager]
	once    sync.Once
	initErr error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("TaskAPI", handleTaskAPI)
}

func main() {
	_ = godotenv.Load()
	port := gcp.GetEnv("PORT", "8080")

	go func() {
		if err := funcframework.Start(port); err != nil {
			slog.Error("Functions framework stopped", "error", err)
			os.Exit(1)
		}
	}()

	// Block until the platform asks us to stop, then let running tasks drain.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if m := manager.Load(); m != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			slog.Warn("Shutdown cancelled running tasks", "error", err)
		}
	}
}

// handleTaskAPI is the HTTP entry point.
func handleTaskAPI(w http.ResponseWriter, r *http.Request) {
	// Build the manager and its clients once, on the first request.
	once.Do(func() {
		var m *services.TaskManager
		m, initErr = services.NewTaskManagerFromEnv(context.Background())
		if initErr == nil {
			manager.Store(m)
			router = newRouter(m)
		}
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	// Delegate to the router.
	router.ServeHTTP(w, r)
}
