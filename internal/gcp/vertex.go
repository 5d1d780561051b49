package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
)

// Generation parameters for page extraction.
const (
	ExtractionMaxOutputTokens = 2048
	ExtractionTemperature     = 0.1
	ExtractionTopP            = 0.8
	ExtractionTopK            = 40
)

// VertexClient holds the pre-configured generative model used for page extraction.
type VertexClient struct {
	ExtractionModel *genai.GenerativeModel
	baseClient      *genai.Client
}

// NewVertexClient creates a new client holding the extraction model.
func NewVertexClient(ctx context.Context, projectID, region, modelName string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-pro-002"
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	extractionModel := baseClient.GenerativeModel(modelName)
	extractionModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(ExtractionSystemPrompt)},
	}
	extractionModel.SetMaxOutputTokens(ExtractionMaxOutputTokens)
	extractionModel.SetTemperature(ExtractionTemperature)
	extractionModel.SetTopP(ExtractionTopP)
	extractionModel.SetTopK(ExtractionTopK)

	return &VertexClient{
		ExtractionModel: extractionModel,
		baseClient:      baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
