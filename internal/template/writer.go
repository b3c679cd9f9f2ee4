package template

import (
	"bytes"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/koa-group/doc-pipeline/internal/brformat"
	"github.com/koa-group/doc-pipeline/internal/model"
)

// Writer renders a consolidated payload into the fixed-layout template.
type Writer struct {
	templatePath string
	labelSpec    *LabelSpec
	maxTableRows int
}

// NewWriter builds a Writer. maxTableRows bounds both the cleared range and
// the number of rows written per table.
func NewWriter(templatePath string, labelSpec *LabelSpec, maxTableRows int) *Writer {
	return &Writer{templatePath: templatePath, labelSpec: labelSpec, maxTableRows: maxTableRows}
}

// Render fills the template with the payload and returns the finished
// workbook bytes. Unmapped fields and missing sheets are skipped, never an
// error: rendering is total over well-formed input.
func (w *Writer) Render(payload *model.ConsolidatedPayload) ([]byte, error) {
	f, err := excelize.OpenFile(w.templatePath)
	if err != nil {
		return nil, eris.Wrap(err, "writer: open template")
	}
	defer f.Close()

	if sheetExists(f, GeralSheet) && w.labelSpec != nil {
		w.writeGeral(f, payload.Geral)
	}
	if sheetExists(f, ProjetoSheet) {
		writeProjeto(f, payload.Projeto)
	}

	for _, spec := range AllTables {
		if !sheetExists(f, spec.Sheet) {
			continue
		}
		w.clearTable(f, spec)
		w.writeTable(f, spec, payload.TableRows(spec.Sheet))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "writer: serialize workbook")
	}
	return buf.Bytes(), nil
}

func (w *Writer) writeGeral(f *excelize.File, data map[string]any) {
	for label, value := range data {
		cell, ok := w.labelSpec.Lookup(label)
		if !ok {
			continue
		}
		setCell(f, GeralSheet, cell, value)
	}
}

func writeProjeto(f *excelize.File, data map[string]any) {
	for label, cell := range ProjetoCells {
		value, ok := data[label]
		if !ok {
			continue
		}
		setCell(f, ProjetoSheet, cell, value)
	}
}

// clearTable blanks every cell in the table's data range so a reprocess never
// leaks rows from a previous run.
func (w *Writer) clearTable(f *excelize.File, spec TableSpec) {
	end := spec.DataStartRow + w.maxTableRows - 1
	for _, col := range spec.Columns {
		for r := spec.DataStartRow; r <= end; r++ {
			_ = f.SetCellValue(spec.Sheet, col.Letter+strconv.Itoa(r), nil)
		}
	}
}

func (w *Writer) writeTable(f *excelize.File, spec TableSpec, rows []map[string]any) {
	if len(rows) > w.maxTableRows {
		rows = rows[:w.maxTableRows]
	}
	for i, row := range rows {
		r := spec.DataStartRow + i
		for _, col := range spec.Columns {
			v, present := row[col.Letter]
			if !present {
				continue
			}
			setCell(f, spec.Sheet, col.Letter+strconv.Itoa(r), v)
		}
	}
}

func setCell(f *excelize.File, sheet, cell string, value any) {
	if s, ok := value.(string); ok {
		value = brformat.NormalizeWhitespace(s)
	}
	_ = f.SetCellValue(sheet, cell, value)
}

func sheetExists(f *excelize.File, name string) bool {
	idx, err := f.GetSheetIndex(name)
	return err == nil && idx >= 0
}
