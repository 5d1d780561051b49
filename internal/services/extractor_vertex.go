package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/docpageflow/internal/gcp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// generator is the subset of *genai.GenerativeModel used for extraction.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexExtractor calls a Gemini model on Vertex AI.
type VertexExtractor struct {
	model generator
}

func NewVertexExtractor(client *gcp.VertexClient) *VertexExtractor {
	return &VertexExtractor{model: client.ExtractionModel}
}

func (e *VertexExtractor) Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResponse, error) {
	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	resp, err := e.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: req.Image},
		genai.Text(req.Instruction),
	)
	if err != nil {
		return nil, classifyError(err)
	}

	text, finish := extractText(resp)
	if finish == genai.FinishReasonSafety || finish == genai.FinishReasonRecitation {
		return nil, Permanent(fmt.Errorf("generation stopped: %v", finish))
	}

	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return nil, Permanent(fmt.Errorf("model response indicates refusal: %q", phrase))
		}
	}
	if text == "" {
		slog.Warn("No text extracted from model response. Treating as empty page.", "finishReason", finish)
	}
	return &ExtractionResponse{Text: text, Confidence: confidenceFor(finish)}, nil
}

// extractText concatenates the text parts of the first candidate and strips
// a surrounding code fence.
func extractText(resp *genai.GenerateContentResponse) (string, genai.FinishReason) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", genai.FinishReasonUnspecified
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", cand.FinishReason
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	text := strings.TrimSpace(sb.String())
	for _, fence := range []string{"```markdown", "```json", "```"} {
		if strings.HasPrefix(text, fence) {
			text = strings.TrimPrefix(text, fence)
			break
		}
	}
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text), cand.FinishReason
}

func confidenceFor(finish genai.FinishReason) float64 {
	switch finish {
	case genai.FinishReasonStop:
		return 0.9
	case genai.FinishReasonMaxTokens:
		return 0.6
	default:
		return 0.5
	}
}

// classifyError maps a Vertex AI failure onto the retry classes.
func classifyError(err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return Permanent(err)
	}
	if errors.Is(err, context.Canceled) {
		return Permanent(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	switch status.Code(err) {
	case codes.ResourceExhausted:
		return RateLimited(err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.PermissionDenied,
		codes.Unauthenticated, codes.NotFound, codes.Unimplemented, codes.OutOfRange:
		return Permanent(err)
	default:
		return Transient(err)
	}
}
