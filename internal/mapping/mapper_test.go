package mapping

import (
	"context"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koa-group/doc-pipeline/internal/llm"
	"github.com/koa-group/doc-pipeline/internal/template"
)

// fakeLLM returns a canned JSON document for every request.
type fakeLLM struct {
	response string
	calls    int
}

func (f *fakeLLM) GenerateStructured(_ context.Context, _ string, schema *jsonschema.Schema, out any) error {
	f.calls++
	return llm.DecodeValidated(f.response, schema, out)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 1.0, Score("valor de venda", "valor de venda"))
	assert.Equal(t, 0.0, Score("abc", "xyz"))
	assert.Equal(t, 1.0, Score("", ""))
	assert.Equal(t, 0.0, Score("abc", ""))

	// Near matches score high, unrelated headers low.
	assert.Greater(t, Score("valor de venda", "valor da venda"), 0.9)
	assert.Less(t, Score("cpf", "data de venda"), 0.5)
}

func TestHeuristicMatchExactNormalizedWins(t *testing.T) {
	m := NewMapper(nil, 0, 0)
	got := m.HeuristicMatch([]string{"Valor de Venda", "VALOR DE VENDA "}, template.Recebiveis)

	// Normalized-equality always selects the target, case and spacing aside.
	assert.Equal(t, "K", got["Valor de Venda"])
	assert.Equal(t, "K", got["VALOR DE VENDA "])
}

func TestHeuristicMatchRejectsBelowThreshold(t *testing.T) {
	m := NewMapper(nil, 0, 0)
	got := m.HeuristicMatch([]string{"coluna totalmente diferente xyz"}, template.Recebiveis)
	assert.Equal(t, "", got["coluna totalmente diferente xyz"])
}

func TestMapRowsHeuristicPath(t *testing.T) {
	f := &fakeLLM{}
	m := NewMapper(f, 0, 0)

	columns := []string{"Nº Unidade", "Nome cliente", "Valor de venda"}
	rows := []map[string]any{
		{"Nº Unidade": "101", "Nome cliente": "MARIA", "Valor de venda": "R$ 350.000,00"},
		{"Nº Unidade": "", "Nome cliente": "", "Valor de venda": ""},
	}

	res, err := m.MapRows(context.Background(), template.Recebiveis, columns, rows)
	require.NoError(t, err)

	assert.Zero(t, f.calls, "hit-rate 1.0 must not invoke the llm")
	assert.False(t, res.ViaLLM)
	require.Len(t, res.Rows, 1, "all-empty rows are dropped")
	assert.Equal(t, "101", res.Rows[0]["C"])
	assert.Equal(t, "MARIA", res.Rows[0]["F"])
	assert.InDelta(t, 350000.0, res.Rows[0]["K"].(float64), 1e-9)
}

func TestMapRowsDelegatesToLLMBelowHitRate(t *testing.T) {
	f := &fakeLLM{response: `{
		"mapping": [
			{"source": "unit ref", "target_col": "C", "transform": "none"},
			{"source": "amount due", "target_col": "M", "transform": "parse_brl_money"},
			{"source": "internal code", "target_col": null, "transform": "none"}
		],
		"notes": null
	}`}
	m := NewMapper(f, 0, 0)

	columns := []string{"unit ref", "amount due", "internal code"}
	rows := []map[string]any{
		{"unit ref": "A-12", "amount due": "1.234,56", "internal code": "zz"},
	}

	res, err := m.MapRows(context.Background(), template.Recebiveis, columns, rows)
	require.NoError(t, err)

	assert.Equal(t, 1, f.calls)
	assert.True(t, res.ViaLLM)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "A-12", res.Rows[0]["C"])
	assert.InDelta(t, 1234.56, res.Rows[0]["M"].(float64), 1e-9)
	_, hasUnmapped := res.Rows[0][""]
	assert.False(t, hasUnmapped)
	assert.NotEmpty(t, res.Warnings)
}

func TestInferTransform(t *testing.T) {
	tests := []struct {
		name string
		want Transform
	}{
		{"Data de venda", TransformDate},
		{"Vencimento Final", TransformDate},
		{"Previsão lançamento", TransformDate},
		{"Valor de venda", TransformMoney},
		{"VGV", TransformMoney},
		{"Saldo devedor atual", TransformMoney},
		{"Parcelas restantes", TransformInt},
		{"Unidades", TransformInt},
		{"Área privativa (m²)", TransformFloat},
		{"Taxa (a.a.)", TransformFloat},
		{"Torre", TransformNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferTransform(tt.name), tt.name)
	}
}

func TestApplyTransform(t *testing.T) {
	assert.InDelta(t, 1234.56, ApplyTransform("1.234,56", TransformMoney).(float64), 1e-9)
	assert.Equal(t, "2024-12-25", ApplyTransform("25/12/2024", TransformDate))
	assert.Equal(t, int64(36), ApplyTransform("36 meses", TransformInt))
	assert.Nil(t, ApplyTransform("sem valor", TransformMoney))
	assert.Nil(t, ApplyTransform("   ", TransformNone))
	assert.Equal(t, "Torre A", ApplyTransform("Torre  A", TransformNone))
}
