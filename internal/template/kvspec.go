package template

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/koa-group/doc-pipeline/internal/brformat"
)

// labelScanMaxRow bounds the template scan; the Geral sheet is far shorter.
const labelScanMaxRow = 250

// LabelPair binds one label found in the template to the cell its value
// belongs in.
type LabelPair struct {
	Label     string `json:"label"`
	LabelCell string `json:"label_cell"`
	ValueCell string `json:"value_cell"`
}

// LabelSpec is the generated lookup from normalized label text to destination
// cell, built once from the template and cached to disk.
type LabelSpec struct {
	Pairs       []LabelPair          `json:"pairs"`
	ByLabelNorm map[string]LabelPair `json:"by_label_norm"`
}

// Lookup resolves a raw label to its destination value cell. Exact normalized
// match first; otherwise substring containment against spec labels absorbs
// minor label drift. ok=false means the field should be silently dropped.
func (s *LabelSpec) Lookup(label string) (string, bool) {
	norm := brformat.NormalizeHeader(label)
	if norm == "" {
		return "", false
	}
	if item, ok := s.ByLabelNorm[norm]; ok {
		return item.ValueCell, true
	}
	for k, item := range s.ByLabelNorm {
		if strings.Contains(k, norm) {
			return item.ValueCell, true
		}
	}
	return "", false
}

// GenerateLabelSpec scans the Geral sheet's label/value column pairs (B/C and
// E/F) and records every non-empty label with its adjacent value cell.
func GenerateLabelSpec(templatePath string) (*LabelSpec, error) {
	f, err := excelize.OpenFile(templatePath)
	if err != nil {
		return nil, eris.Wrap(err, "kvspec: open template")
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(GeralSheet)
	if err != nil || idx < 0 {
		return nil, eris.Errorf("kvspec: template has no %q sheet", GeralSheet)
	}

	spec := &LabelSpec{ByLabelNorm: map[string]LabelPair{}}
	scan := func(labelCol, valueCol string) {
		for r := 1; r <= labelScanMaxRow; r++ {
			labelCell := labelCol + strconv.Itoa(r)
			label, err := f.GetCellValue(GeralSheet, labelCell)
			if err != nil {
				continue
			}
			label = strings.TrimSpace(label)
			if label == "" {
				continue
			}
			pair := LabelPair{
				Label:     label,
				LabelCell: labelCell,
				ValueCell: valueCol + strconv.Itoa(r),
			}
			spec.Pairs = append(spec.Pairs, pair)
			norm := brformat.NormalizeHeader(label)
			if _, exists := spec.ByLabelNorm[norm]; !exists {
				spec.ByLabelNorm[norm] = pair
			}
		}
	}
	scan("B", "C")
	scan("E", "F")

	return spec, nil
}

// LoadLabelSpec reads a cached spec from disk.
func LoadLabelSpec(path string) (*LabelSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "kvspec: read cache")
	}
	var spec LabelSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, eris.Wrap(err, "kvspec: decode cache")
	}
	if len(spec.Pairs) == 0 || len(spec.ByLabelNorm) == 0 {
		return nil, eris.New("kvspec: cache is empty")
	}
	return &spec, nil
}

// EnsureLabelSpec returns the cached spec when present and valid, otherwise
// regenerates it from the template and writes the cache.
func EnsureLabelSpec(templatePath, specPath string) (*LabelSpec, error) {
	if spec, err := LoadLabelSpec(specPath); err == nil {
		return spec, nil
	}

	spec, err := GenerateLabelSpec(templatePath)
	if err != nil {
		return nil, err
	}

	raw, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "kvspec: encode cache")
	}
	if err := os.MkdirAll(filepath.Dir(specPath), 0o755); err != nil {
		return nil, eris.Wrap(err, "kvspec: create cache dir")
	}
	if err := os.WriteFile(specPath, raw, 0o644); err != nil {
		return nil, eris.Wrap(err, "kvspec: write cache")
	}
	return spec, nil
}
