package gcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildExtractionPrompt(t *testing.T) {
	p := BuildExtractionPrompt(PromptParams{PageNumber: 2, TotalPages: 7, Language: "en"})
	assert.Contains(t, p, "This is page 2 of 7.")
	assert.Contains(t, p, "Document language: en")
	assert.Contains(t, p, "Document type: general")
	assert.Contains(t, p, "Extract all visible text")

	table := BuildExtractionPrompt(PromptParams{Mode: ModeTable})
	assert.Contains(t, table, "Tab separated text")
	assert.NotContains(t, table, "This is page")

	chart := BuildExtractionPrompt(PromptParams{Mode: ModeChart, DocumentType: "report"})
	assert.Contains(t, chart, `"title"`)
	assert.Contains(t, chart, "Document type: report")
}

func TestValidMode(t *testing.T) {
	for _, m := range []string{"", ModeText, ModeTable, ModeChart} {
		assert.True(t, ValidMode(m), m)
	}
	assert.False(t, ValidMode("summary"))
}
