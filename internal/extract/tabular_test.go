package extract

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/koa-group/doc-pipeline/internal/apperr"
	"github.com/koa-group/doc-pipeline/internal/mapping"
	"github.com/koa-group/doc-pipeline/internal/model"
)

func TestTabularCSVHeuristicMapping(t *testing.T) {
	csvData := []byte("Nº Unidade,Nome Cliente,Valor de Venda\n" +
		"101,MARIA SILVA,\"450.000,00\"\n" +
		"102,JOAO SOUZA,\"380.500,50\"\n")

	m := mapping.NewMapper(nil, 0, 0)
	res, err := Tabular(context.Background(), m, model.DocRecebiveis, csvData, ".csv")
	require.NoError(t, err)

	require.Len(t, res.Patches, 1)
	patch, ok := res.Patches[0].(model.TablePatch)
	require.True(t, ok)
	assert.Equal(t, model.TableRecebiveis, patch.Table)
	require.Len(t, patch.Rows, 2)
	assert.Equal(t, "101", patch.Rows[0]["C"])
	assert.Equal(t, 450000.00, patch.Rows[0]["K"])

	assert.Equal(t, model.TableRecebiveis, res.Payload["table"])
}

func TestTabularXLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Plan1")
	require.NoError(t, err)
	for _, record := range [][]string{
		{"Nº Unidade", "Situação"},
		{"201", "Vendido"},
	} {
		row := sheet.AddRow()
		for _, v := range record {
			row.AddCell().SetString(v)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	m := mapping.NewMapper(nil, 0, 0)
	res, err := Tabular(context.Background(), m, model.DocRecebiveis, buf.Bytes(), ".xlsx")
	require.NoError(t, err)

	require.Len(t, res.Patches, 1)
	patch := res.Patches[0].(model.TablePatch)
	require.Len(t, patch.Rows, 1)
	assert.Equal(t, "201", patch.Rows[0]["C"])
	assert.Equal(t, "Vendido", patch.Rows[0]["E"])
}

func TestTabularUnknownDocTypeReturnsRawSample(t *testing.T) {
	csvData := []byte("a,b\n1,2\n3,4\n")

	m := mapping.NewMapper(nil, 0, 0)
	res, err := Tabular(context.Background(), m, model.DocOutro, csvData, ".csv")
	require.NoError(t, err)

	assert.Empty(t, res.Patches)
	assert.Equal(t, []string{"a", "b"}, res.Payload["columns"])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "amostra bruta")
}

func TestTabularEmptyContent(t *testing.T) {
	m := mapping.NewMapper(nil, 0, 0)
	_, err := Tabular(context.Background(), m, model.DocRecebiveis, nil, ".csv")
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestTabularBadWorkbook(t *testing.T) {
	m := mapping.NewMapper(nil, 0, 0)
	_, err := Tabular(context.Background(), m, model.DocRecebiveis, []byte("not a zip"), ".xlsx")
	require.Error(t, err)
	assert.Equal(t, apperr.KindBadRequest, apperr.KindOf(err))
}

func TestSupportedTabularExt(t *testing.T) {
	assert.True(t, SupportedTabularExt(".csv"))
	assert.True(t, SupportedTabularExt(".xlsx"))
	assert.True(t, SupportedTabularExt(".xlsm"))
	assert.False(t, SupportedTabularExt(".pdf"))
	assert.False(t, SupportedTabularExt(".docx"))
}
