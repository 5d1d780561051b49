package models

import "time"

// PageImage is one rasterized page, referenced by its storage URI.
type PageImage struct {
	TaskID     string `json:"task_id"`
	PageNumber int    `json:"page_number"`
	URI        string `json:"uri"`
	MIMEType   string `json:"mime_type"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
}

// PageResult is the terminal outcome of analyzing one page.
type PageResult struct {
	PageNumber int     `json:"page_number" firestore:"pageNumber"`
	Content    string  `json:"content" firestore:"content"`
	Confidence float64 `json:"confidence" firestore:"confidence"`
	Attempts   int     `json:"attempts" firestore:"attempts"`
	Error      string  `json:"error,omitempty" firestore:"error,omitempty"`
}

// Failed reports whether the page exhausted its attempts without content.
func (r PageResult) Failed() bool {
	return r.Error != ""
}

// TaskResult is the materialized outcome of a task.
type TaskResult struct {
	TaskID      string       `json:"task_id"`
	Status      Status       `json:"status"`
	FileName    string       `json:"file_name"`
	TotalPages  int          `json:"total_pages"`
	FailedPages []int        `json:"failed_pages,omitempty"`
	Results     []PageResult `json:"results"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// ResultFromTask materializes a TaskResult from a task snapshot.
func ResultFromTask(t *Task) *TaskResult {
	c := t.Clone()
	res := &TaskResult{
		TaskID:      c.TaskID,
		Status:      c.Status,
		FileName:    c.FileName,
		TotalPages:  c.PageCount(),
		Results:     c.Results,
		CreatedAt:   c.CreatedAt,
		CompletedAt: c.CompletedAt,
		Error:       c.Error,
	}
	if res.Results == nil {
		res.Results = []PageResult{}
	}
	for _, r := range res.Results {
		if r.Failed() {
			res.FailedPages = append(res.FailedPages, r.PageNumber)
		}
	}
	return res
}
