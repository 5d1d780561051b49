package gcp

import (
	"fmt"
	"strings"
)

// Extraction modes accepted by BuildExtractionPrompt.
const (
	ModeText  = "text"
	ModeTable = "table"
	ModeChart = "chart"
)

// --- Extraction Model Prompts ---
const ExtractionSystemPrompt = "You are a document page reader. You receive one rendered page of a larger document and transcribe its content faithfully. Accuracy and completeness matter more than brevity."

const textExtractionPrompt = `Carefully analyze this image. It is one page of a document. Extract all visible text and keep the original structure.

Requirements:
1. Keep paragraphs in their original structure and order.
2. Keep the hierarchy of titles and subtitles.
3. Keep list items with their formatting and indentation.
4. Keep table structure when tables are present.
5. Keep page numbers, headers and footers, each on its own line.

Output:
1. Plain text only. Do not add HTML or markdown markup.
2. Separate paragraphs with blank lines.
3. Align table columns with spaces or tabs.

Special elements:
1. Pictures: write [image] followed by a short description.
2. Formulas: transcribe as accurately as possible.
3. Charts: describe the chart type and its main content.
4. Watermarks: ignore.`

const tableExtractionPrompt = `Analyze the tables on this page and extract their data.

Requirements:
1. Identify the table structure (rows and columns).
2. Extract the header row.
3. Extract every cell, keeping number formats such as currency and percentages.
4. For merged cells, repeat the content across the merged range.

Output:
1. Tab separated text, header first, one row per line.
2. Mark empty cells with [empty].
3. Mark anything unreadable with [unreadable].`

const chartExtractionPrompt = `Analyze this page. It contains charts, text and data. Extract all of it.

1. Title and subject: main title, subtitle, and the overall subject of the page.
2. Text: every caption and description, keeping hierarchy and emphasis.
3. Data and charts: every value, label, unit and legend entry. For pie charts include
   the percentage of each slice; for timelines keep the order of events and their dates;
   for bar charts include the value of each bar and the axis labels.
4. Output a single JSON object:
   {"title": "...", "type": "...", "data": {...}, "metadata": {...}}
5. Keep every number exactly as printed.`

// PromptParams parameterizes the per-page instruction.
type PromptParams struct {
	Mode         string
	PageNumber   int
	TotalPages   int
	Language     string
	DocumentType string
}

// BuildExtractionPrompt renders the instruction sent with a page image.
func BuildExtractionPrompt(p PromptParams) string {
	var b strings.Builder
	switch p.Mode {
	case ModeTable:
		b.WriteString(tableExtractionPrompt)
	case ModeChart:
		b.WriteString(chartExtractionPrompt)
	default:
		b.WriteString(textExtractionPrompt)
	}
	if p.PageNumber > 0 && p.TotalPages > 0 {
		fmt.Fprintf(&b, "\n\nThis is page %d of %d.", p.PageNumber, p.TotalPages)
	}
	fmt.Fprintf(&b, "\nDocument language: %s", valueOr(p.Language, "auto"))
	fmt.Fprintf(&b, "\nDocument type: %s", valueOr(p.DocumentType, "general"))
	return b.String()
}

// ValidMode reports whether mode names a known prompt. Empty means text.
func ValidMode(mode string) bool {
	switch mode {
	case "", ModeText, ModeTable, ModeChart:
		return true
	}
	return false
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
