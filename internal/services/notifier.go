package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/docpageflow/internal/models"
)

// CompletionNotifier is told about every task that reaches a terminal state.
type CompletionNotifier interface {
	Notify(ctx context.Context, result *models.TaskResult) error
}

// WorkflowNotifier starts a Cloud Workflows execution per finished task.
type WorkflowNotifier struct {
	createExecution func(ctx context.Context, req *executionspb.CreateExecutionRequest) (*executionspb.Execution, error)
	parent          string
}

func NewWorkflowNotifier(ctx context.Context, projectID, location, workflowID string) (*WorkflowNotifier, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowNotifier{
		createExecution: func(ctx context.Context, req *executionspb.CreateExecutionRequest) (*executionspb.Execution, error) {
			return client.CreateExecution(ctx, req)
		},
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}, nil
}

func (n *WorkflowNotifier) Notify(ctx context.Context, result *models.TaskResult) error {
	payload := models.WorkflowPayload{
		TaskID:      result.TaskID,
		Status:      result.Status,
		TotalPages:  result.TotalPages,
		FailedPages: result.FailedPages,
		Error:       result.Error,
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	exec, err := n.createExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent:    n.parent,
		Execution: &executionspb.Execution{Argument: string(payloadBytes)},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	slog.Info("Workflow execution started.", "taskId", result.TaskID, "execution", exec.GetName())
	return nil
}
