// Package ocr extracts text from scanned PDFs, used as a fallback when
// native text extraction comes up short.
package ocr

import (
	"context"

	"github.com/rotisserie/eris"
)

// Extractor extracts text from PDF content.
type Extractor interface {
	ExtractText(ctx context.Context, content []byte) (string, error)
}

// Config selects and configures the OCR provider.
type Config struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg Config) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// Disabled is an Extractor that always fails, for deployments without an
// OCR binary. Callers treat the failure as "no text recovered".
type Disabled struct{}

func (Disabled) ExtractText(_ context.Context, _ []byte) (string, error) {
	return "", eris.New("ocr: disabled by configuration")
}
