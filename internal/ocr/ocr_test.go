package ocr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExtractorLocal(t *testing.T) {
	ext, err := NewExtractor(Config{Provider: "local", PdfToTextPath: "/usr/bin/pdftotext"})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractorLocalDefault(t *testing.T) {
	ext, err := NewExtractor(Config{})
	require.NoError(t, err)
	assert.IsType(t, &PdfToText{}, ext)
}

func TestNewExtractorNone(t *testing.T) {
	ext, err := NewExtractor(Config{Provider: "none"})
	require.NoError(t, err)

	_, err = ext.ExtractText(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
}

func TestNewExtractorUnknownProvider(t *testing.T) {
	_, err := NewExtractor(Config{Provider: "unknown"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown provider "unknown"`)
}

func TestPdfToTextBinPath(t *testing.T) {
	p := NewPdfToText("")
	assert.Equal(t, "pdftotext", p.binPath)

	p = NewPdfToText("/custom/pdftotext")
	assert.Equal(t, "/custom/pdftotext", p.binPath)
}

func TestPdfToTextBinaryNotFound(t *testing.T) {
	p := NewPdfToText("/nonexistent/pdftotext")
	_, err := p.ExtractText(context.Background(), []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestPdfToTextSuccess(t *testing.T) {
	// Fake pdftotext binary that echoes fixed content.
	fakeBin := filepath.Join(t.TempDir(), "pdftotext")
	script := "#!/bin/sh\necho 'Extracted text content'\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0o755))

	p := NewPdfToText(fakeBin)
	text, err := p.ExtractText(context.Background(), []byte("%PDF-1.4 dummy"))
	require.NoError(t, err)
	assert.Contains(t, text, "Extracted text content")
}
