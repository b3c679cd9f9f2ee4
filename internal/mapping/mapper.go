// Package mapping matches a tabular document's columns to a template table's
// named columns. A string-similarity heuristic runs first; when too few
// columns match, the mapping is delegated to the LLM together with a few
// sample rows.
package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/koa-group/doc-pipeline/internal/brformat"
	"github.com/koa-group/doc-pipeline/internal/llm"
	"github.com/koa-group/doc-pipeline/internal/template"
)

// Thresholds are hand-tuned on real documents; configurable, not re-derived.
const (
	DefaultMatchThreshold   = 0.86
	DefaultHitRateThreshold = 0.50
	maxSampleRows           = 5
)

// Transform tags how a mapped cell value is normalized before writing.
type Transform string

const (
	TransformNone  Transform = "none"
	TransformMoney Transform = "parse_brl_money"
	TransformDate  Transform = "parse_date_ddmmyyyy"
	TransformInt   Transform = "parse_int"
	TransformFloat Transform = "parse_float"
)

// ColumnMapItem is one source-column mapping decided by the LLM.
type ColumnMapItem struct {
	Source    string    `json:"source"`
	TargetCol string    `json:"target_col"`
	Transform Transform `json:"transform"`
}

// llmMappingResponse is the structured reply requested from the LLM.
type llmMappingResponse struct {
	Mapping []ColumnMapItem `json:"mapping"`
	Notes   string          `json:"notes"`
}

var mappingSchema = llm.MustCompileSchema("column_mapping.json", `{
	"type": "object",
	"properties": {
		"mapping": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"source": {"type": "string"},
					"target_col": {"type": ["string", "null"]},
					"transform": {"type": ["string", "null"]}
				},
				"required": ["source"]
			}
		},
		"notes": {"type": ["string", "null"]}
	},
	"required": ["mapping"]
}`)

// Mapper resolves source columns against table specs.
type Mapper struct {
	llm              llm.Client
	matchThreshold   float64
	hitRateThreshold float64
}

// NewMapper builds a Mapper. Zero thresholds fall back to the defaults.
func NewMapper(client llm.Client, matchThreshold, hitRateThreshold float64) *Mapper {
	if matchThreshold <= 0 {
		matchThreshold = DefaultMatchThreshold
	}
	if hitRateThreshold <= 0 {
		hitRateThreshold = DefaultHitRateThreshold
	}
	return &Mapper{llm: client, matchThreshold: matchThreshold, hitRateThreshold: hitRateThreshold}
}

// Result carries the materialized rows plus mapping metadata for logs.
type Result struct {
	Rows     []map[string]any
	Mapping  map[string]string // source column -> template column letter ("" = unmatched)
	Warnings []string
	ViaLLM   bool
}

// HeuristicMatch maps each source column to its best-scoring target column
// letter, or "" when the best score is below the acceptance threshold. An
// exact normalized match always wins.
func (m *Mapper) HeuristicMatch(columns []string, spec template.TableSpec) map[string]string {
	type target struct{ letter, norm string }
	targets := make([]target, len(spec.Columns))
	for i, c := range spec.Columns {
		targets[i] = target{c.Letter, brformat.NormalizeHeader(c.Name)}
	}

	out := make(map[string]string, len(columns))
	for _, src := range columns {
		sn := brformat.NormalizeHeader(src)
		bestLetter, bestScore := "", 0.0
		for _, t := range targets {
			sc := Score(sn, t.norm)
			if sc > bestScore {
				bestLetter, bestScore = t.letter, sc
			}
		}
		if bestScore >= m.matchThreshold {
			out[src] = bestLetter
		} else {
			out[src] = ""
		}
	}
	return out
}

// MapRows maps the source columns to spec and materializes every row. Rows
// with no non-empty mapped cell are dropped.
func (m *Mapper) MapRows(ctx context.Context, spec template.TableSpec, columns []string, rows []map[string]any) (*Result, error) {
	heuristic := m.HeuristicMatch(columns, spec)

	matched := 0
	for _, letter := range heuristic {
		if letter != "" {
			matched++
		}
	}
	total := len(columns)
	if total == 0 {
		total = 1
	}
	hitRate := float64(matched) / float64(total)

	if hitRate < m.hitRateThreshold {
		return m.mapViaLLM(ctx, spec, columns, rows)
	}

	nameByLetter := make(map[string]string, len(spec.Columns))
	for _, c := range spec.Columns {
		nameByLetter[c.Letter] = c.Name
	}

	res := &Result{Mapping: heuristic}
	for _, row := range rows {
		out := map[string]any{}
		for src, letter := range heuristic {
			if letter == "" {
				continue
			}
			tr := InferTransform(nameByLetter[letter])
			out[letter] = ApplyTransform(row[src], tr)
		}
		if hasValue(out) {
			res.Rows = append(res.Rows, out)
		}
	}
	return res, nil
}

func (m *Mapper) mapViaLLM(ctx context.Context, spec template.TableSpec, columns []string, rows []map[string]any) (*Result, error) {
	if m.llm == nil {
		return nil, fmt.Errorf("mapping: heuristic below hit-rate threshold and no llm client configured")
	}

	sample := rows
	if len(sample) > maxSampleRows {
		sample = sample[:maxSampleRows]
	}

	prompt := buildMappingPrompt(spec, columns, sample)
	var resp llmMappingResponse
	if err := m.llm.GenerateStructured(ctx, prompt, mappingSchema, &resp); err != nil {
		return nil, err
	}

	mapped := map[string]string{}
	transforms := map[string]Transform{}
	for _, item := range resp.Mapping {
		mapped[item.Source] = item.TargetCol
		tr := item.Transform
		if tr == "" {
			tr = TransformNone
		}
		transforms[item.Source] = tr
	}

	res := &Result{
		Mapping:  mapped,
		Warnings: []string{"mapeamento via LLM (colunas não bateram 1:1)"},
		ViaLLM:   true,
	}
	for _, row := range rows {
		out := map[string]any{}
		for src, letter := range mapped {
			if letter == "" {
				continue
			}
			out[letter] = ApplyTransform(row[src], transforms[src])
		}
		if hasValue(out) {
			res.Rows = append(res.Rows, out)
		}
	}

	zap.L().Info("column mapping delegated to llm",
		zap.String("table", spec.Sheet),
		zap.Int("source_columns", len(columns)),
		zap.Int("rows", len(res.Rows)),
	)
	return res, nil
}

// InferTransform picks a transform from keywords in the target column name.
func InferTransform(targetName string) Transform {
	tn := brformat.NormalizeHeader(targetName)
	switch {
	case containsAny(tn, "data", "vencimento", "previsao"):
		return TransformDate
	case containsAny(tn, "valor", "vgv", "saldo", "pmt", "(r$)"):
		return TransformMoney
	case containsAny(tn, "parcelas", "prazo", "unidades", "dormitorios", "vagas"):
		return TransformInt
	case containsAny(tn, "area", "m2", "taxa", "%"):
		return TransformFloat
	}
	return TransformNone
}

// ApplyTransform normalizes a cell value. Failed parses become nil so noisy
// cells never fail a document.
func ApplyTransform(value any, tr Transform) any {
	if value == nil {
		return nil
	}
	if s, ok := value.(string); ok {
		s = brformat.NormalizeWhitespace(s)
		if s == "" {
			return nil
		}
		value = s
	}

	switch tr {
	case TransformMoney:
		if f, ok := brformat.ParseMoney(value); ok {
			return f
		}
		return nil
	case TransformDate:
		if d, ok := brformat.ParseDate(value); ok {
			return d.Format("2006-01-02")
		}
		return nil
	case TransformInt:
		if n, ok := brformat.ParseInt(value); ok {
			return n
		}
		return nil
	case TransformFloat:
		if f, ok := brformat.ParseFloat(value); ok {
			return f
		}
		return nil
	}
	return value
}

func buildMappingPrompt(spec template.TableSpec, columns []string, sample []map[string]any) string {
	type tcol struct {
		Col  string `json:"col"`
		Name string `json:"name"`
	}
	tcols := make([]tcol, len(spec.Columns))
	for i, c := range spec.Columns {
		tcols[i] = tcol{c.Letter, c.Name}
	}
	tcolsJSON, _ := json.Marshal(tcols)
	colsJSON, _ := json.Marshal(columns)
	sampleJSON, _ := json.Marshal(sample)

	return fmt.Sprintf(`Você é um parser de planilhas pt-BR. Mapeie colunas de origem para colunas do template.

REGRAS:
- O ID do destino é SEMPRE a letra da coluna do template (ex.: "J", "U").
- Se não tiver correspondência, use null em target_col.
- Sugira transformações: "parse_brl_money", "parse_date_ddmmyyyy", "parse_int", "parse_float", ou "none".
- Não invente colunas inexistentes.

TEMPLATE (colunas):
%s

ORIGEM (colunas detectadas):
%s

AMOSTRA (até 5 linhas):
%s`, tcolsJSON, colsJSON, sampleJSON)
}

func hasValue(row map[string]any) bool {
	for _, v := range row {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		return true
	}
	return false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
