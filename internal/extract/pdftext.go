package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"

	"github.com/koa-group/doc-pipeline/internal/apperr"
	"github.com/koa-group/doc-pipeline/internal/llm"
	"github.com/koa-group/doc-pipeline/internal/model"
	"github.com/koa-group/doc-pipeline/internal/ocr"
)

// DefaultMinNativeTextChars is the threshold below which native PDF text is
// considered a scan and the OCR fallback runs.
const DefaultMinNativeTextChars = 64

// LLMTable is one table patch in a structured extraction response.
type LLMTable struct {
	Table string           `json:"table"`
	Rows  []map[string]any `json:"rows"`
}

// LLMResponse is the structured output contract for PDF extraction.
type LLMResponse struct {
	KV     map[string]map[string]any `json:"kv"`
	Tables []LLMTable                `json:"tables"`
	Notes  string                    `json:"notes"`
}

var responseSchema = llm.MustCompileSchema("pdf_extraction.json", `{
	"type": "object",
	"properties": {
		"kv": {
			"type": "object",
			"additionalProperties": {"type": "object"}
		},
		"tables": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["table"],
				"properties": {
					"table": {"type": "string"},
					"rows": {"type": "array", "items": {"type": "object"}}
				}
			}
		},
		"notes": {"type": ["string", "null"]}
	}
}`)

// FromPDF extracts a PDF document: native text first, OCR fallback when the
// native text is shorter than minNativeChars, then a structured LLM pass with
// the doc-type prompt. Both extraction paths coming back empty is fatal for
// the document.
func FromPDF(ctx context.Context, client llm.Client, ocrExt ocr.Extractor, docType model.DocType, content []byte, minNativeChars int) (*Result, error) {
	if minNativeChars <= 0 {
		minNativeChars = DefaultMinNativeTextChars
	}

	var warnings []string

	text, err := NativeText(content)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("texto nativo indisponível: %v", err))
		text = ""
	}
	text = strings.TrimSpace(text)

	if len(text) < minNativeChars {
		ocrText, ocrErr := ocrExt.ExtractText(ctx, content)
		if ocrErr != nil {
			warnings = append(warnings, fmt.Sprintf("fallback OCR falhou: %v", ocrErr))
		} else {
			warnings = append(warnings, "texto nativo curto; fallback OCR aplicado")
			if ocrText = strings.TrimSpace(ocrText); len(ocrText) > len(text) {
				text = ocrText
			}
		}
	}

	if text == "" {
		return nil, apperr.Extraction("extract: PDF sem texto extraível (nem OCR funcionou)")
	}

	var resp LLMResponse
	if err := client.GenerateStructured(ctx, PromptFor(docType, text), responseSchema, &resp); err != nil {
		return nil, err
	}

	res := &Result{
		Payload: map[string]any{
			"kv":     resp.KV,
			"tables": resp.Tables,
			"notes":  resp.Notes,
		},
		Warnings: warnings,
	}
	if len(resp.KV) > 0 {
		for _, section := range []string{model.SectionGeral, model.SectionProjeto} {
			if data := resp.KV[section]; len(data) > 0 {
				res.Patches = append(res.Patches, model.KVPatch{Section: section, Data: data})
			}
		}
	}
	for _, t := range resp.Tables {
		if t.Table != "" && len(t.Rows) > 0 {
			res.Patches = append(res.Patches, model.TablePatch{Table: t.Table, Rows: t.Rows})
		}
	}
	return res, nil
}

// NativeText pulls embedded text out of a PDF page by page. Malformed pages
// panic inside the reader, so each page is recovered independently and simply
// contributes nothing.
func NativeText(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", eris.Wrap(err, "extract: open pdf")
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		pageText(reader, i, &b)
	}
	return b.String(), nil
}

func pageText(reader *pdf.Reader, n int, b *strings.Builder) {
	defer func() {
		_ = recover()
	}()

	page := reader.Page(n)
	if page.V.IsNull() {
		return
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return
	}
	for _, row := range rows {
		for _, word := range row.Content {
			b.WriteString(word.S)
			b.WriteString(" ")
		}
		b.WriteString("\n")
	}
}
