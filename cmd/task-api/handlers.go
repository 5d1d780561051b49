package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/Lllllllleong/docpageflow/internal/services"
)

const maxUploadMemory = 32 << 20

// taskService is the part of *services.TaskManager the HTTP layer uses.
type taskService interface {
	Submit(ctx context.Context, req services.SubmitRequest) (*models.Task, error)
	Status(ctx context.Context, taskID string) (*models.TaskStatusView, error)
	Result(ctx context.Context, taskID string) (*models.TaskResult, error)
	PageImage(ctx context.Context, taskID string, page int) ([]byte, error)
	AnalyzePage(ctx context.Context, taskID string, page int, mode string) (*models.PageResult, error)
	Cancel(ctx context.Context, taskID string) error
}

type api struct {
	tasks taskService
}

func newRouter(tasks taskService) http.Handler {
	a := &api{tasks: tasks}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks", a.submit)
	mux.HandleFunc("GET /tasks/{id}/status", a.status)
	mux.HandleFunc("GET /tasks/{id}/result", a.result)
	mux.HandleFunc("POST /tasks/{id}/cancel", a.cancel)
	mux.HandleFunc("GET /tasks/{id}/pages/{page}/image", a.pageImage)
	mux.HandleFunc("POST /tasks/{id}/pages/{page}/analyze", a.analyzePage)
	return mux
}

func (a *api) submit(w http.ResponseWriter, r *http.Request) {
	// Parse the multipart upload. Large files spill to disk past maxUploadMemory.
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request: expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request: missing file field")
		return
	}
	defer file.Close()

	// Delegate to the business logic. The pipeline continues in the background.
	task, err := a.tasks.Submit(r.Context(), services.SubmitRequest{
		FileName:     header.Filename,
		Content:      file,
		Mode:         r.FormValue("mode"),
		Language:     r.FormValue("language"),
		DocumentType: r.FormValue("documentType"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, models.SubmitTaskResponse{TaskID: task.TaskID, Status: task.Status})
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	view, err := a.tasks.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *api) result(w http.ResponseWriter, r *http.Request) {
	res, err := a.tasks.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	if err := a.tasks.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	// Cancellation is asynchronous; the task reports FAILED once the pipeline stops.
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) pageImage(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	data, err := a.tasks.PageImage(r.Context(), r.PathValue("id"), page)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(data); err != nil {
		slog.Error("Failed to write page image", "error", err)
	}
}

func (a *api) analyzePage(w http.ResponseWriter, r *http.Request) {
	page, ok := pageParam(w, r)
	if !ok {
		return
	}
	// The body is optional. Without one the task's own mode is used.
	var body struct {
		Mode string `json:"mode"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Bad Request: could not parse JSON")
			return
		}
	}
	taskID := r.PathValue("id")
	res, err := a.tasks.AnalyzePage(r.Context(), taskID, page, body.Mode)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.AnalyzePageResponse{TaskID: taskID, Page: *res})
}

func pageParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	page, err := strconv.Atoi(r.PathValue("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request: page must be an integer")
		return 0, false
	}
	return page, true
}

// writeServiceError maps pipeline sentinels to status codes. Anything
// unrecognised is logged and hidden behind a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrTaskNotCompleted), errors.Is(err, services.ErrPageNotReady):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrUnsupportedFormat), errors.Is(err, services.ErrInvalidMode), errors.Is(err, services.ErrPageOutOfRange):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error: processing failed")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, models.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}
