// Package extract turns uploaded documents into template patches. Spreadsheets
// go through the column mapper; PDFs go through native text extraction (with
// an OCR fallback) and a structured LLM pass.
package extract

import (
	"github.com/koa-group/doc-pipeline/internal/model"
)

// Result is the outcome of extracting a single document. Patches feed the
// consolidation step; Payload is persisted verbatim on the document record.
type Result struct {
	Patches  []model.Patch
	Payload  map[string]any
	Warnings []string
}

// SupportedTabularExt reports whether ext routes to the tabular extractor.
func SupportedTabularExt(ext string) bool {
	switch ext {
	case ".csv", ".xlsx", ".xlsm":
		return true
	}
	return false
}
