package services

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const DefaultSofficePath = "soffice"

// OfficeRasterizer converts a presentation to PDF with a headless office
// suite and rasterizes the result through the PDF path.
type OfficeRasterizer struct {
	sofficePath string
	pdf         Rasterizer
	countSlides func(path string) (int, error)
}

func NewOfficeRasterizer(sofficePath string, pdf Rasterizer) *OfficeRasterizer {
	if sofficePath == "" {
		sofficePath = DefaultSofficePath
	}
	return &OfficeRasterizer{
		sofficePath: sofficePath,
		pdf:         pdf,
		countSlides: pptxSlideCount,
	}
}

func (r *OfficeRasterizer) Rasterize(ctx context.Context, doc Document) (*Rasterization, error) {
	logCtx := slog.With("taskId", doc.TaskID, "path", doc.Path)

	slides, err := r.countSlides(doc.Path)
	if err != nil {
		return nil, &ConversionError{Message: "failed to read presentation", Err: err}
	}
	if slides == 0 {
		return nil, &ConversionError{Message: "presentation has no slides"}
	}

	tempDir, err := os.MkdirTemp("", "office-convert-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	pdfPath, err := r.convertToPDF(ctx, doc.Path, tempDir)
	if err != nil {
		logCtx.Error("Office conversion failed.", "error", err)
		return nil, err
	}

	res, err := r.pdf.Rasterize(ctx, Document{
		TaskID:   doc.TaskID,
		FileName: doc.FileName,
		Path:     pdfPath,
		Format:   FormatPDF,
	})
	if err != nil {
		return nil, err
	}
	if len(res.Pages) != slides {
		return nil, &ConversionError{Message: fmt.Sprintf("converter produced %d page images for %d slides", len(res.Pages), slides)}
	}
	logCtx.Info("Presentation rasterized.", "slideCount", slides)
	return &Rasterization{DeclaredPages: slides, Pages: res.Pages}, nil
}

func (r *OfficeRasterizer) convertToPDF(ctx context.Context, input, outDir string) (string, error) {
	cmd := exec.CommandContext(ctx, r.sofficePath, "--headless", "--convert-to", "pdf", "--outdir", outDir, input)
	output, err := cmd.CombinedOutput()
	if err != nil {
		toolErr := &ConversionToolError{
			Tool:   filepath.Base(r.sofficePath),
			Output: strings.TrimSpace(string(output)),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		return "", toolErr
	}

	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	pdfPath := filepath.Join(outDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", &ConversionToolError{
			Tool:   filepath.Base(r.sofficePath),
			Output: strings.TrimSpace(string(output)),
			Err:    fmt.Errorf("expected output %s: %w", pdfPath, err),
		}
	}
	return pdfPath, nil
}

type presentationXML struct {
	SlideIDs []struct{} `xml:"sldIdLst>sldId"`
}

// pptxSlideCount counts the slide id list of ppt/presentation.xml.
func pptxSlideCount(path string) (int, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return 0, fmt.Errorf("not a valid pptx package: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "ppt/presentation.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return 0, fmt.Errorf("failed to open %s: %w", f.Name, err)
		}
		defer rc.Close()
		var pres presentationXML
		if err := xml.NewDecoder(rc).Decode(&pres); err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", f.Name, err)
		}
		return len(pres.SlideIDs), nil
	}
	return 0, errors.New("ppt/presentation.xml not found")
}
