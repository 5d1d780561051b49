package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func textResponse(finish genai.FinishReason, texts ...string) *genai.GenerateContentResponse {
	parts := make([]genai.Part, len(texts))
	for i, t := range texts {
		parts[i] = genai.Text(t)
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Parts: parts},
			FinishReason: finish,
		}},
	}
}

func TestVertexExtractor_Extract(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(genai.FinishReasonStop, "```markdown\n# Title\n", "body\n```")}
	e := &VertexExtractor{model: gen}

	resp, err := e.Extract(context.Background(), ExtractionRequest{Instruction: "extract", Image: []byte{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "# Title\nbody", resp.Text)
	assert.Equal(t, 0.9, resp.Confidence)

	require.Len(t, gen.parts, 2)
	blob, ok := gen.parts[0].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/png", blob.MIMEType)
	assert.Equal(t, genai.Text("extract"), gen.parts[1])
}

func TestVertexExtractor_TruncatedOutputHasLowerConfidence(t *testing.T) {
	e := &VertexExtractor{model: &fakeGenerator{resp: textResponse(genai.FinishReasonMaxTokens, "partial")}}

	resp, err := e.Extract(context.Background(), ExtractionRequest{})
	require.NoError(t, err)
	assert.Less(t, resp.Confidence, 0.9)
}

func TestVertexExtractor_RefusalIsPermanent(t *testing.T) {
	e := &VertexExtractor{model: &fakeGenerator{resp: textResponse(genai.FinishReasonStop, "I am unable to help with that image.")}}

	_, err := e.Extract(context.Background(), ExtractionRequest{})
	require.Error(t, err)
	assert.Equal(t, FailurePermanent, ClassOf(err))
}

func TestVertexExtractor_SafetyStopIsPermanent(t *testing.T) {
	e := &VertexExtractor{model: &fakeGenerator{resp: textResponse(genai.FinishReasonSafety)}}

	_, err := e.Extract(context.Background(), ExtractionRequest{})
	require.Error(t, err)
	assert.Equal(t, FailurePermanent, ClassOf(err))
}

func TestVertexExtractor_EmptyResponse(t *testing.T) {
	e := &VertexExtractor{model: &fakeGenerator{resp: &genai.GenerateContentResponse{}}}

	resp, err := e.Extract(context.Background(), ExtractionRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureClass
	}{
		{"quota", status.Error(codes.ResourceExhausted, "quota exceeded"), FailureRateLimited},
		{"unavailable", status.Error(codes.Unavailable, "try later"), FailureTransient},
		{"internal", status.Error(codes.Internal, "oops"), FailureTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), FailureTransient},
		{"invalid argument", status.Error(codes.InvalidArgument, "bad image"), FailurePermanent},
		{"permission", status.Error(codes.PermissionDenied, "denied"), FailurePermanent},
		{"blocked", &genai.BlockedError{}, FailurePermanent},
		{"cancelled", context.Canceled, FailurePermanent},
		{"plain", errors.New("connection reset"), FailureTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(tt.err)
			assert.Equal(t, tt.want, ClassOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
