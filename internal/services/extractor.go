package services

import "context"

// ExtractionRequest is one call to the vision model: an instruction and a page image.
type ExtractionRequest struct {
	Instruction string
	Image       []byte
	MIMEType    string
}

// ExtractionResponse carries the extracted text and a confidence derived
// from how the model finished.
type ExtractionResponse struct {
	Text       string
	Confidence float64
}

// ExtractionService is the remote vision model. Failures should be wrapped
// with Transient, RateLimited or Permanent; unwrapped errors count as transient.
type ExtractionService interface {
	Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResponse, error)
}
