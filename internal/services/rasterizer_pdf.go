package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"

	"github.com/Lllllllleong/docpageflow/internal/models"
	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const DefaultRenderDPI = 300

// pageRenderer is the subset of *fitz.Document the rasterizer needs.
type pageRenderer interface {
	NumPage() int
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

// PDFRasterizer reads the declared page count with pdfcpu and renders each
// page with MuPDF.
type PDFRasterizer struct {
	pages        PageStore
	dpi          float64
	countPages   func(path string) (int, error)
	openRenderer func(path string) (pageRenderer, error)
}

func NewPDFRasterizer(pages PageStore, dpi float64) *PDFRasterizer {
	if dpi <= 0 {
		dpi = DefaultRenderDPI
	}
	return &PDFRasterizer{
		pages:      pages,
		dpi:        dpi,
		countPages: pdfPageCount,
		openRenderer: func(path string) (pageRenderer, error) {
			return fitz.New(path)
		},
	}
}

func pdfPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return api.PageCount(f, cfg)
}

func (r *PDFRasterizer) Rasterize(ctx context.Context, doc Document) (*Rasterization, error) {
	logCtx := slog.With("taskId", doc.TaskID, "path", doc.Path)

	declared, err := r.countPages(doc.Path)
	if err != nil {
		return nil, &ConversionError{Message: "failed to read PDF page count", Err: err}
	}
	if declared == 0 {
		return nil, &ConversionError{Message: "PDF has no pages"}
	}

	renderer, err := r.openRenderer(doc.Path)
	if err != nil {
		return nil, &ConversionError{Message: "failed to open PDF", Err: err}
	}
	defer renderer.Close()

	if rendered := renderer.NumPage(); rendered < declared {
		return nil, &ConversionError{Message: fmt.Sprintf("renderer sees %d pages, document declares %d", rendered, declared)}
	}

	images := make([]models.PageImage, 0, declared)
	for i := 0; i < declared; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageNumber := i + 1
		img, err := renderer.ImageDPI(i, r.dpi)
		if err != nil {
			return nil, &ConversionError{Message: fmt.Sprintf("failed to render page %d", pageNumber), Err: err}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, &ConversionError{Message: fmt.Sprintf("failed to encode page %d as PNG", pageNumber), Err: err}
		}
		uri, err := r.pages.PutPage(ctx, doc.TaskID, pageNumber, buf.Bytes())
		if err != nil {
			return nil, fmt.Errorf("failed to store page %d: %w", pageNumber, err)
		}
		bounds := img.Bounds()
		images = append(images, models.PageImage{
			TaskID:     doc.TaskID,
			PageNumber: pageNumber,
			URI:        uri,
			MIMEType:   "image/png",
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}
	logCtx.Info("PDF rasterized.", "pageCount", declared)
	return &Rasterization{DeclaredPages: declared, Pages: images}, nil
}
