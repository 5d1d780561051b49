package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutions struct {
	req *executionspb.CreateExecutionRequest
	err error
}

func (f *fakeExecutions) CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest) (*executionspb.Execution, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &executionspb.Execution{Name: req.Parent + "/executions/1"}, nil
}

func TestWorkflowNotifier_Notify(t *testing.T) {
	fake := &fakeExecutions{}
	n := &WorkflowNotifier{createExecution: fake.CreateExecution, parent: "projects/p/locations/l/workflows/w"}

	err := n.Notify(context.Background(), &models.TaskResult{
		TaskID:      "t1",
		Status:      models.StatusFailed,
		TotalPages:  3,
		FailedPages: []int{2},
		Error:       "1 of 3 pages failed",
	})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/locations/l/workflows/w", fake.req.Parent)

	var payload models.WorkflowPayload
	require.NoError(t, json.Unmarshal([]byte(fake.req.Execution.Argument), &payload))
	assert.Equal(t, "t1", payload.TaskID)
	assert.Equal(t, []int{2}, payload.FailedPages)
	assert.Equal(t, 3, payload.TotalPages)
}

func TestWorkflowNotifier_PropagatesClientError(t *testing.T) {
	fake := &fakeExecutions{err: errors.New("permission denied")}
	n := &WorkflowNotifier{createExecution: fake.CreateExecution, parent: "p"}

	err := n.Notify(context.Background(), &models.TaskResult{TaskID: "t1"})
	assert.ErrorContains(t, err, "permission denied")
}
