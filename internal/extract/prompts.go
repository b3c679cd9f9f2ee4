package extract

import (
	"unicode/utf8"

	"github.com/koa-group/doc-pipeline/internal/model"
)

// maxPromptChars bounds the document text embedded in a prompt.
const maxPromptChars = 190_000

const promptHead = "Você é um especialista em extração de dados imobiliários e financeiros (pt-BR). " +
	"Analise o TEXTO extraído do documento e gere um JSON estruturado seguindo rigorosamente as chaves solicitadas."

// PromptFor builds the extraction prompt for a document type. Prompts were
// tuned on real samples of receivables reports, debt statements, feasibility
// studies, construction schedules and corporate charters.
func PromptFor(docType model.DocType, text string) string {
	body := promptBody(docType)
	return promptHead + "\n\n" + body + "\n\nTEXTO DO DOCUMENTO:\n<<<\n" + truncateRunes(text, maxPromptChars) + "\n>>>\n"
}

func promptBody(docType model.DocType) string {
	switch docType {
	case model.DocRecebiveis, model.DocTabelaVendas:
		return `CONTEXTO:
Relatório de Contas a Receber, Tabela de Vendas ou Estoque.
Pode ser uma lista consolidada (ex: resumo do empreendimento) ou fichas financeiras por cliente.

OBJETIVO:
Preencher a tabela 'Recebíveis' com uma linha por Unidade/Contrato.

MAPEAMENTO DE COLUNAS (Keys Obrigatórias):
- 'C': Nº Unidade (Procure: "Unidade", "U-xxxx", "Apto", "Loja", "1204B")
- 'D': Torre/Bloco (Se houver)
- 'E': Situação (Ex: "Vendido", "Estoque", "Reservado", "Quitado")
- 'F': Nome Cliente (Em relatórios financeiros, está associado ao contrato)
- 'G': CPF/CNPJ do Cliente
- 'J': Valor de Tabela / Valor Original (R$)
- 'K': Valor de Venda / Valor Contrato (R$)
- 'L': Recebido / Pago / Valor Baixa (R$)
      -> Dica: Procure por "Total Pago", "Valor Baixa", "Total Recebido".
      -> Em fichas financeiras, some os valores de "Valor baixa".
- 'M': A Receber / Saldo Devedor (R$)
      -> Dica: Procure por "Total a Pagar", "Saldo Atual", "Saldo Devedor".
- 'Q': Área Total (m²)
- 'R': Área Privativa (m²)

REGRAS DE EXTRAÇÃO:
1. Ignore linhas de totais gerais (somas do empreendimento).
2. Converta valores monetários para float (ex: "1.200,50" -> 1200.50).
3. Se o documento for "Tabela de Vendas" (espelho), foque em Unidade, Área e Valor de Tabela.

SAÍDA ESPERADA (JSON):
{
  "tables": [
    {
      "table": "Recebíveis",
      "rows": [
        { "C": "101", "F": "MARIA SILVA", "L": 50000.00, "M": 250000.00, "E": "Vendido" }
      ]
    }
  ]
}`

	case model.DocEndividamento:
		return `CONTEXTO:
Relatório de Endividamento Bancário, Extrato de CCB, CRI ou Debêntures.

OBJETIVO:
Listar as dívidas ativas na tabela 'Endividamento'.

MAPEAMENTO DE COLUNAS:
- 'B': CNPJ do Tomador (Procure no cabeçalho do relatório)
- 'C': Razão Social Tomador
- 'D': Instituição Financeira / Credor
      -> Dica: Muitas vezes está na coluna "Credor/Banco" ou implícito no nome do produto (ex: "GIRO CAIXA").
      -> Se for Debênture, use o nome do Agente Fiduciário ou genericamente "Debenturistas".
- 'E': Modalidade / Produto (Ex: "CCB", "CRI", "Debênture", "Plano Empresário")
- 'F': Taxa de Juros (Ex: "1,44% a.m", "CDI + 2%")
- 'G': Indexador (Ex: "CDI", "IPCA", "TR")
- 'K': Valor Contratado / Valor Original (R$)
- 'L': Saldo Devedor Atual (Valor Principal + Juros Acumulados)
      -> Dica: Coluna "Saldo Devedor", "Valor Presente" ou "Total".
- 'N': Vencimento Final (Data)

SAÍDA ESPERADA (JSON):
{
  "tables": [
    {
      "table": "Endividamento",
      "rows": [
        { "D": "CAIXA", "E": "GIRO CAIXA", "F": "1.44% a.m", "L": 3000000.00, "N": "2029-02-01" }
      ]
    }
  ]
}`

	case model.DocLandbank:
		return `CONTEXTO:
Planilha de controle de Terrenos (Landbank).

OBJETIVO:
Preencher a tabela 'Landbank'.

MAPEAMENTO DE COLUNAS:
- 'C': Bairro
- 'D': Cidade
- 'E': UF
- 'F': Área do Terreno (m²)
- 'G': Valor de Mercado / VGV Estimado
- 'J': Valor de Aquisição (Custo histórico)
- 'I': Modelo de Aquisição (Permuta, Dinheiro, Parceria)
- 'K': Saldo a Pagar (se houver parcelas pendentes do terreno)
- 'O': Nome do Empreendimento (se já definido)

SAÍDA ESPERADA (JSON):
{
  "tables": [
    {
      "table": "Landbank",
      "rows": [
        { "C": "Pompeia", "D": "São Paulo", "F": 1401.00, "J": 19042800.00 }
      ]
    }
  ]
}`

	case model.DocViabilidade, model.DocFaturamento:
		return `CONTEXTO:
Estudo de Viabilidade Econômica, DRE Projetado ou Resumo do Empreendimento.
Pode ser PDF (Relatório Visual) ou Excel (Tabela).

OBJETIVO:
Extrair as grandes linhas de Receita e Custo para a tabela 'Viabilidade Financeira'.

MAPEAMENTO DE COLUNAS:
- 'A': Descritivo Financeiro (Nome da linha)
- 'B': Valor (R$)
- 'C': Valor (%)

ITENS CHAVE PARA BUSCAR:
- "(+) Receita VGV" ou "VGV Total"
- "(-) Custo de Obra" ou "Obras Totais"
- "(-) Terreno" ou "Aquisição Terreno"
- "(-) Impostos" ou "Tributos"
- "(-) Marketing" ou "Despesas Comerciais"
- "(=) Resultado Líquido" ou "Margem Líquida"

SAÍDA ESPERADA (JSON):
{
  "tables": [
    {
      "table": "Viabilidade Financeira",
      "rows": [
        { "A": "Receita VGV", "B": 56279500.00 },
        { "A": "Terreno", "B": 19042800.00 }
      ]
    }
  ]
}`

	case model.DocCronograma:
		return `CONTEXTO:
Cronograma Físico-Financeiro, Curva de Obra ou Planejamento.
Muitas vezes apresenta uma sequência de meses (1, 2, 3...) e custos associados.

OBJETIVO:
Extrair datas chave para o planejamento do projeto (Aba 'Projeto').

CAMPOS ALVO (Preencher em "kv" -> "Projeto"):
1. "Data de Início das Obras":
   - Procure por "Data Base", "Início Previsto" ou a data correspondente ao "Mês 1".
2. "Previsão Término de Obras":
   - Procure a data do último mês com custo relevante ou "Data Entrega".
3. "Habite-se (previsão)":
   - Geralmente 1 a 2 meses após o término da obra.

IMPORTANTE SOBRE DATAS RELATIVAS:
Se o documento listar apenas "Mês 1", "Mês 2", procure no cabeçalho a "Data de Referência" ou "Data Atualização" (ex: "03.10" ou "out/2024") e tente estimar a data de início real.

SAÍDA ESPERADA (JSON):
{
  "kv": {
    "Projeto": {
      "Data de Início das Obras": "2024-10-01",
      "Previsão Término de Obras": "2026-10-01"
    }
  }
}`

	case model.DocContratoSocial:
		return `CONTEXTO:
Contrato Social, Estatuto ou Alteração Contratual (Jurídico).

OBJETIVO:
Identificar a entidade legal e seus sócios para cadastro geral.

CAMPOS ALVO (Preencher em "kv" -> "Geral"):
- "Razão Social SPE": Nome completo da empresa.
- "CNPJ SPE": Número do CNPJ.
- "Sócios": Lista de nomes dos sócios ou diretores citados no preâmbulo ou assinaturas.

SAÍDA ESPERADA (JSON):
{
  "kv": {
    "Geral": {
      "Razão Social SPE": "ARIE PROPERTIES S.A.",
      "CNPJ SPE": "50.448.249/0001-32",
      "Sócios": "Paulo Silva, Aline Silva"
    }
  }
}`
	}

	return `TIPO DOCUMENTO: ` + string(docType) + `
INSTRUÇÃO:
Tente identificar tabelas ou dados relevantes para um projeto imobiliário.
Se encontrar dados de Vendas, mapeie para 'Recebíveis'.
Se encontrar dados de Dívida, mapeie para 'Endividamento'.
Se encontrar dados Gerais (Datas, Nomes), coloque em 'kv'.`
}

// truncateRunes cuts s to at most n runes without splitting a UTF-8 sequence.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
