// Package consolidate merges per-document patches into the single payload the
// template writer renders.
package consolidate

import (
	"github.com/koa-group/doc-pipeline/internal/brformat"
	"github.com/koa-group/doc-pipeline/internal/model"
)

// Merge folds patches into a fresh payload in input order: table patches
// append, KV patches overwrite key by key. Unknown table or section names are
// returned so the caller can log them; they never fail the run.
func Merge(patches []model.Patch) (*model.ConsolidatedPayload, []string) {
	payload := model.NewConsolidatedPayload()
	var unknown []string

	for _, patch := range patches {
		switch p := patch.(type) {
		case model.TablePatch:
			if !payload.AppendRows(p.Table, p.Rows) {
				unknown = append(unknown, "tabela desconhecida: "+p.Table)
			}
		case model.KVPatch:
			switch p.Section {
			case model.SectionGeral:
				for k, v := range p.Data {
					payload.Geral[k] = v
				}
			case model.SectionProjeto:
				for k, v := range p.Data {
					payload.Projeto[k] = v
				}
			default:
				unknown = append(unknown, "seção desconhecida: "+p.Section)
			}
		}
	}

	// Project names in Landbank column O tend to carry stray line breaks from
	// merged cells.
	for _, row := range payload.Landbank {
		if s, ok := row["O"].(string); ok {
			row["O"] = brformat.NormalizeWhitespace(s)
		}
	}

	return payload, unknown
}
