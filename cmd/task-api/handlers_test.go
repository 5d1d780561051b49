package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/Lllllllleong/docpageflow/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	submitted services.SubmitRequest
	content   string
	err       error
	mode      string
}

func (f *fakeTasks) Submit(ctx context.Context, req services.SubmitRequest) (*models.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(req.Content)
	f.submitted, f.content = req, string(data)
	return &models.Task{TaskID: "t1", Status: models.StatusPending}, nil
}

func (f *fakeTasks) Status(ctx context.Context, taskID string) (*models.TaskStatusView, error) {
	if taskID != "t1" {
		return nil, fmt.Errorf("%w: %s", services.ErrTaskNotFound, taskID)
	}
	return &models.TaskStatusView{TaskID: "t1", Status: models.StatusAnalyzing}, nil
}

func (f *fakeTasks) Result(ctx context.Context, taskID string) (*models.TaskResult, error) {
	return nil, fmt.Errorf("%w: task %s is ANALYZING", services.ErrTaskNotCompleted, taskID)
}

func (f *fakeTasks) PageImage(ctx context.Context, taskID string, page int) ([]byte, error) {
	if page > 2 {
		return nil, services.ErrPageOutOfRange
	}
	return []byte("png"), nil
}

func (f *fakeTasks) AnalyzePage(ctx context.Context, taskID string, page int, mode string) (*models.PageResult, error) {
	f.mode = mode
	return &models.PageResult{PageNumber: page, Content: "cells", Attempts: 1}, nil
}

func (f *fakeTasks) Cancel(ctx context.Context, taskID string) error { return nil }

func multipartUpload(t *testing.T, fileName, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmit(t *testing.T) {
	tasks := &fakeTasks{}
	body, contentType := multipartUpload(t, "deck.pptx", "zip bytes", map[string]string{"mode": "table", "language": "en"})
	req := httptest.NewRequest(http.MethodPost, "/tasks", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	newRouter(tasks).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp models.SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, models.StatusPending, resp.Status)
	assert.Equal(t, "deck.pptx", tasks.submitted.FileName)
	assert.Equal(t, "table", tasks.submitted.Mode)
	assert.Equal(t, "en", tasks.submitted.Language)
	assert.Equal(t, "zip bytes", tasks.content)
}

func TestSubmit_Errors(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeTasks{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType := multipartUpload(t, "notes.txt", "x", nil)
	req := httptest.NewRequest(http.MethodPost, "/tasks", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	newRouter(&fakeTasks{err: services.ErrUnsupportedFormat}).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusAndResult(t *testing.T) {
	router := newRouter(&fakeTasks{})
	tests := []struct {
		path string
		want int
	}{
		{"/tasks/t1/status", http.StatusOK},
		{"/tasks/missing/status", http.StatusNotFound},
		{"/tasks/t1/result", http.StatusConflict},
		{"/tasks/t1/pages/1/image", http.StatusOK},
		{"/tasks/t1/pages/9/image", http.StatusBadRequest},
		{"/tasks/t1/pages/one/image", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPageImageContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(&fakeTasks{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/t1/pages/2/image", nil))
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "png", rec.Body.String())
}

func TestAnalyzePage(t *testing.T) {
	tasks := &fakeTasks{}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/tasks/t1/pages/2/analyze", strings.NewReader(`{"mode":"table"}`))
	newRouter(tasks).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp models.AnalyzePageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, 2, resp.Page.PageNumber)
	assert.Equal(t, "table", tasks.mode)

	rec = httptest.NewRecorder()
	newRouter(tasks).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tasks/t1/pages/2/analyze", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, tasks.mode)
}
