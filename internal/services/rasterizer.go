package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/docpageflow/internal/models"
)

// Supported source formats.
const (
	FormatPDF  = "pdf"
	FormatPPTX = "pptx"
)

// Document is a source file waiting to be rasterized.
type Document struct {
	TaskID   string
	FileName string
	Path     string
	Format   string
}

// Rasterization is the ordered page set produced for a document together
// with the page count the document itself declares.
type Rasterization struct {
	DeclaredPages int
	Pages         []models.PageImage
}

// Rasterizer turns a document into page images stored in a PageStore.
type Rasterizer interface {
	Rasterize(ctx context.Context, doc Document) (*Rasterization, error)
}

// DetectFormat maps a file name to a supported format.
func DetectFormat(fileName string) (string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return FormatPDF, nil
	case ".pptx":
		return FormatPPTX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, fileName)
	}
}

// FormatRasterizer dispatches on Document.Format.
type FormatRasterizer struct {
	PDF    Rasterizer
	Office Rasterizer
}

func (r *FormatRasterizer) Rasterize(ctx context.Context, doc Document) (*Rasterization, error) {
	switch doc.Format {
	case FormatPDF:
		return r.PDF.Rasterize(ctx, doc)
	case FormatPPTX:
		return r.Office.Rasterize(ctx, doc)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, doc.Format)
	}
}

// checkRasterization enforces the count invariant: exactly DeclaredPages
// images numbered 1..DeclaredPages in order.
func checkRasterization(r *Rasterization) error {
	if r == nil {
		return &ConversionError{Message: "rasterizer returned no result"}
	}
	if r.DeclaredPages <= 0 {
		return &ConversionError{Message: "document declares no pages"}
	}
	if len(r.Pages) != r.DeclaredPages {
		return &ConversionError{Message: fmt.Sprintf("produced %d page images for %d declared pages", len(r.Pages), r.DeclaredPages)}
	}
	for i, p := range r.Pages {
		if p.PageNumber != i+1 {
			return &ConversionError{Message: fmt.Sprintf("page image %d carries page number %d", i+1, p.PageNumber)}
		}
	}
	return nil
}
