// Package template holds the fixed layout of the output spreadsheet: per-table
// column specs, the absolute cells of the Projeto sheet, the generated label
// spec for the Geral sheet, and the writer that renders a consolidated payload
// into the template.
package template

import "github.com/koa-group/doc-pipeline/internal/model"

// Column pairs a template column letter with its canonical header name.
type Column struct {
	Letter string
	Name   string
}

// TableSpec describes where one table lives inside the template.
type TableSpec struct {
	Sheet        string
	HeaderRow    int
	DataStartRow int
	StartCol     string
	Columns      []Column
}

// ColumnName returns the canonical header for a column letter, or "".
func (s TableSpec) ColumnName(letter string) string {
	for _, c := range s.Columns {
		if c.Letter == letter {
			return c.Name
		}
	}
	return ""
}

// Recebiveis is the receivables table layout.
var Recebiveis = TableSpec{
	Sheet:        model.TableRecebiveis,
	HeaderRow:    17,
	DataStartRow: 18,
	StartCol:     "B",
	Columns: []Column{
		{"B", "-"},
		{"C", "Nº Unidade"},
		{"D", "Torre"},
		{"E", "Situação"},
		{"F", "Nome cliente"},
		{"G", "CPF"},
		{"H", "Profissão"},
		{"I", "Data de venda"},
		{"J", "Valor de tabela"},
		{"K", "Valor de venda"},
		{"L", "Recebido (período de obras)"},
		{"M", "A receber (período de obras)"},
		{"N", "A receber Chaves"},
		{"O", "A receber Repasse / Financiamento"},
		{"P", "A receber Financiamento Direto"},
		{"Q", "Área total"},
		{"R", "Área privativa"},
		{"S", "Total dormitórios"},
		{"T", "Total vagas"},
		{"U", "Valor de tabela"},
		{"V", "Valor de venda"},
		{"W", "Valor de estoque"},
	},
}

// Tipologia is the unit typology table layout.
var Tipologia = TableSpec{
	Sheet:        model.TableTipologia,
	HeaderRow:    7,
	DataStartRow: 8,
	StartCol:     "B",
	Columns: []Column{
		{"B", "-"},
		{"C", "Nº da Unidade"},
		{"D", "Torre"},
		{"E", "Situação"},
		{"F", "Padrão"},
		{"G", "Uso da unidade"},
		{"H", "Tipo (residencial)"},
		{"I", "Área total (m²)"},
		{"J", "Área privativa (m²)"},
		{"K", "Dormitórios"},
		{"L", "Vagas"},
		{"M", "Valor de tabela"},
		{"N", "Valor de venda"},
		{"O", "Valor m²"},
	},
}

// Landbank is the land bank table layout.
var Landbank = TableSpec{
	Sheet:        model.TableLandbank,
	HeaderRow:    9,
	DataStartRow: 10,
	StartCol:     "C",
	Columns: []Column{
		{"C", "Bairro"},
		{"D", "Cidade"},
		{"E", "UF"},
		{"F", "Área (m²)"},
		{"G", "Valor de Mercado"},
		{"H", "Data de aquisição"},
		{"I", "Modelo de Aquisição"},
		{"J", "Valor de Aquisição"},
		{"K", "Saldo a Pagar"},
		{"L", "Vencimento Final"},
		{"M", "Forma de Pagamento"},
		{"N", "Area Permutada"},
		{"O", "Nome Empreendimento"},
		{"P", "Tipo (Residencial/ Comercial/Loteamento)"},
		{"Q", "Unidades"},
		{"R", "VGV"},
		{"S", "Previsão aprovação projeto"},
		{"T", "Previsão lançamento"},
		{"U", "Previsão início obras"},
	},
}

// Endividamento is the indebtedness table layout.
var Endividamento = TableSpec{
	Sheet:        model.TableEndividamento,
	HeaderRow:    7,
	DataStartRow: 8,
	StartCol:     "B",
	Columns: []Column{
		{"B", "CNPJ tomador"},
		{"C", "Razão social tomador"},
		{"D", "Instituição financeira"},
		{"E", "Modalidade do crédito"},
		{"F", "Taxa (a.a.)"},
		{"G", "Indexador"},
		{"H", "Garantia"},
		{"I", "Valor da PMT"},
		{"J", "Parcelas restantes"},
		{"K", "Valor contratado"},
		{"L", "Saldo devedor atual"},
		{"M", "Prazo (meses)"},
		{"N", "Vencimento"},
	},
}

// Viabilidade is the financial feasibility table layout.
var Viabilidade = TableSpec{
	Sheet:        model.TableViabilidade,
	HeaderRow:    7,
	DataStartRow: 8,
	StartCol:     "A",
	Columns: []Column{
		{"A", "Descritivo financeiro"},
		{"B", "Valor (R$)"},
		{"C", "Valor (%)"},
	},
}

// AllTables lists every table spec in template order.
var AllTables = []TableSpec{Recebiveis, Tipologia, Landbank, Endividamento, Viabilidade}

// SpecForDocType routes a declared document type to its target table spec.
func SpecForDocType(dt model.DocType) (TableSpec, bool) {
	switch dt {
	case model.DocRecebiveis, model.DocTabelaVendas:
		return Recebiveis, true
	case model.DocTipologia:
		return Tipologia, true
	case model.DocLandbank:
		return Landbank, true
	case model.DocEndividamento:
		return Endividamento, true
	case model.DocViabilidade, model.DocFaturamento:
		return Viabilidade, true
	}
	return TableSpec{}, false
}

// ProjetoSheet is the sheet holding the fixed free-form project cells.
const ProjetoSheet = "Projeto"

// GeralSheet is the sheet scanned for the label spec.
const GeralSheet = "Geral"

// ProjetoCells maps free-form project field labels to their absolute cells.
var ProjetoCells = map[string]string{
	"Data de Lançamento":        "C27",
	"Data de Início das Obras":  "C28",
	"Previsão Término de Obras": "C29",
	"Habite-se (previsão)":      "C30",
	"Outorga onerosa":           "F30",
	"Empreendimento Faseado?":   "C33",
	"Modelo aquisição terreno":  "C46",
	"Status aquisição terreno":  "C49",
}
