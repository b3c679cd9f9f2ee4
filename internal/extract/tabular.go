package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/tealeg/xlsx/v2"

	"github.com/koa-group/doc-pipeline/internal/apperr"
	"github.com/koa-group/doc-pipeline/internal/brformat"
	"github.com/koa-group/doc-pipeline/internal/mapping"
	"github.com/koa-group/doc-pipeline/internal/model"
	"github.com/koa-group/doc-pipeline/internal/template"
)

// rawSampleRows caps the sample kept for doc types with no target table.
const rawSampleRows = 50

// Tabular extracts a CSV/XLSX/XLSM document. Doc types with a target table go
// through the column mapper; anything else yields a raw sample payload with a
// warning and no patches.
func Tabular(ctx context.Context, m *mapping.Mapper, docType model.DocType, content []byte, ext string) (*Result, error) {
	var (
		columns []string
		rows    []map[string]any
		err     error
	)
	if ext == ".csv" {
		columns, rows, err = readCSV(content)
	} else {
		columns, rows, err = readXLSX(content)
	}
	if err != nil {
		return nil, err
	}

	spec, ok := template.SpecForDocType(docType)
	if !ok {
		sample := rows
		if len(sample) > rawSampleRows {
			sample = sample[:rawSampleRows]
		}
		return &Result{
			Payload:  map[string]any{"raw_rows": sample, "columns": columns},
			Warnings: []string{"documento sem tabela alvo; retornando amostra bruta"},
		}, nil
	}

	mapped, err := m.MapRows(ctx, spec, columns, rows)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Payload: map[string]any{
			"table":   spec.Sheet,
			"rows":    mapped.Rows,
			"mapping": mapped.Mapping,
		},
		Warnings: mapped.Warnings,
	}
	if len(mapped.Rows) > 0 {
		res.Patches = append(res.Patches, model.TablePatch{Table: spec.Sheet, Rows: mapped.Rows})
	}
	return res, nil
}

// readCSV parses the file with a lenient reader: variable field counts and
// lazy quotes, matching the messy exports this pipeline receives.
func readCSV(content []byte) ([]string, []map[string]any, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var records [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, apperr.Wrap(apperr.KindBadRequest, err, "extract: parse csv")
		}
		records = append(records, record)
	}
	return tableFromRecords(records)
}

// readXLSX reads the first sheet of an XLSX/XLSM workbook.
func readXLSX(content []byte) ([]string, []map[string]any, error) {
	f, err := xlsx.OpenBinary(content)
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.KindBadRequest, err, "extract: open workbook")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, apperr.BadRequest("extract: workbook has no sheets")
	}

	sheet := f.Sheets[0]
	records := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	return tableFromRecords(records)
}

// tableFromRecords treats the first record as the header row and keys every
// following record by the normalized header names. Fields beyond the header
// width are dropped.
func tableFromRecords(records [][]string) ([]string, []map[string]any, error) {
	if len(records) == 0 {
		return nil, nil, apperr.BadRequest("extract: empty table")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = brformat.NormalizeWhitespace(h)
	}

	rows := make([]map[string]any, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
