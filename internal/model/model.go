// Package model defines the persisted entities of the document pipeline and
// the transient patch payloads exchanged between extraction, consolidation
// and rendering.
package model

import (
	"time"
)

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectCreated    ProjectStatus = "created"
	ProjectProcessing ProjectStatus = "processing"
	ProjectReady      ProjectStatus = "ready"
	ProjectFailed     ProjectStatus = "failed"
)

// CanTransition reports whether the project may move to the given status.
// Reprocessing re-enters processing from any resting state.
func (s ProjectStatus) CanTransition(to ProjectStatus) bool {
	switch s {
	case ProjectCreated:
		return to == ProjectProcessing
	case ProjectProcessing:
		return to == ProjectReady || to == ProjectFailed
	case ProjectReady, ProjectFailed:
		return to == ProjectProcessing
	}
	return false
}

// RunStatus represents the lifecycle state of a single run.
type RunStatus string

const (
	RunCreated    RunStatus = "created"
	RunProcessing RunStatus = "processing"
	RunReady      RunStatus = "ready"
	RunFailed     RunStatus = "failed"
)

// CanTransition reports whether the run may move to the given status.
// Runs are immutable once terminal.
func (s RunStatus) CanTransition(to RunStatus) bool {
	switch s {
	case RunCreated:
		return to == RunProcessing || to == RunFailed
	case RunProcessing:
		return to == RunReady || to == RunFailed
	}
	return false
}

// Terminal reports whether the run has finished, successfully or not.
func (s RunStatus) Terminal() bool {
	return s == RunReady || s == RunFailed
}

// DocumentStatus represents the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	DocCreated    DocumentStatus = "created"
	DocQueued     DocumentStatus = "queued"
	DocProcessing DocumentStatus = "processing"
	DocDone       DocumentStatus = "done"
	DocFailed     DocumentStatus = "failed"
)

// CanTransition reports whether the document may move to the given status.
// Any non-terminal document may be force-failed when its run fails, and any
// document reverts to queued on reprocess.
func (s DocumentStatus) CanTransition(to DocumentStatus) bool {
	if to == DocQueued {
		return true
	}
	switch s {
	case DocCreated:
		return to == DocFailed
	case DocQueued:
		return to == DocProcessing || to == DocFailed
	case DocProcessing:
		return to == DocDone || to == DocFailed
	}
	return false
}

// Terminal reports whether the document has finished processing.
func (s DocumentStatus) Terminal() bool {
	return s == DocDone || s == DocFailed
}

// DocType tags a document with its declared content kind, driving prompt and
// table-spec selection.
type DocType string

const (
	DocRecebiveis     DocType = "recebiveis"
	DocTabelaVendas   DocType = "tabela_vendas"
	DocTipologia      DocType = "tipologia"
	DocLandbank       DocType = "landbank"
	DocEndividamento  DocType = "endividamento"
	DocViabilidade    DocType = "viabilidade"
	DocFaturamento    DocType = "faturamento"
	DocCronograma     DocType = "cronograma"
	DocContratoSocial DocType = "contrato_social"
	DocOutro          DocType = "outro"
)

// Project is the top-level entity one run operates on.
type Project struct {
	ID                  string               `json:"id"`
	Name                string               `json:"name"`
	WebhookURL          string               `json:"webhook_url,omitempty"`
	Status              ProjectStatus        `json:"status"`
	ConsolidatedPayload *ConsolidatedPayload `json:"consolidated_payload,omitempty"`
	OutputPath          string               `json:"output_path,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Run is one execution attempt of the pipeline for a project, numbered
// sequentially per project starting at 1.
type Run struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Number    int        `json:"run_number"`
	Status    RunStatus  `json:"status"`
	Logs      []LogEvent `json:"logs"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Document is one uploaded source file belonging to a project.
type Document struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	DocType          DocType        `json:"doc_type"`
	StoragePath      string         `json:"storage_path"`
	OriginalFilename string         `json:"original_filename"`
	Status           DocumentStatus `json:"status"`
	Error            string         `json:"error,omitempty"`
	ExtractedPayload map[string]any `json:"extracted_payload,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// LogEvent is one append-only entry in a run's log.
type LogEvent struct {
	TS    time.Time      `json:"ts"`
	Level string         `json:"level"`
	Event string         `json:"event"`
	Extra map[string]any `json:"extra,omitempty"`
}

// Event builds a log entry stamped with the current time.
func Event(level, event string, extra map[string]any) LogEvent {
	return LogEvent{TS: time.Now().UTC(), Level: level, Event: event, Extra: extra}
}

// Patch is a partial extraction result from one document: either a key/value
// section update or a table row append. The closed set keeps the
// consolidation switch exhaustive.
type Patch interface {
	isPatch()
}

// KVPatch updates one free-form section ("Geral" or "Projeto").
type KVPatch struct {
	Section string         `json:"section"`
	Data    map[string]any `json:"data"`
}

func (KVPatch) isPatch() {}

// TablePatch appends rows to one template table, keyed by column letter.
type TablePatch struct {
	Table string           `json:"table"`
	Rows  []map[string]any `json:"rows"`
}

func (TablePatch) isPatch() {}

// Known table names, matching the template sheet names.
const (
	TableRecebiveis    = "Recebíveis"
	TableTipologia     = "Tipologia"
	TableLandbank      = "Landbank"
	TableEndividamento = "Endividamento"
	TableViabilidade   = "Viabilidade Financeira"
)

// Known free-form section names.
const (
	SectionGeral   = "Geral"
	SectionProjeto = "Projeto"
)

// ConsolidatedPayload is the project-wide merge of every document's patches.
type ConsolidatedPayload struct {
	Geral         map[string]any   `json:"Geral"`
	Projeto       map[string]any   `json:"Projeto"`
	Recebiveis    []map[string]any `json:"Recebíveis"`
	Tipologia     []map[string]any `json:"Tipologia"`
	Landbank      []map[string]any `json:"Landbank"`
	Endividamento []map[string]any `json:"Endividamento"`
	Viabilidade   []map[string]any `json:"Viabilidade Financeira"`
}

// NewConsolidatedPayload returns an empty payload with all sections allocated.
func NewConsolidatedPayload() *ConsolidatedPayload {
	return &ConsolidatedPayload{
		Geral:   map[string]any{},
		Projeto: map[string]any{},
	}
}

// TableRows returns the row slice for a known table name, or nil.
func (p *ConsolidatedPayload) TableRows(table string) []map[string]any {
	switch table {
	case TableRecebiveis:
		return p.Recebiveis
	case TableTipologia:
		return p.Tipologia
	case TableLandbank:
		return p.Landbank
	case TableEndividamento:
		return p.Endividamento
	case TableViabilidade:
		return p.Viabilidade
	}
	return nil
}

// AppendRows appends rows to a known table, reporting whether the name was
// recognized.
func (p *ConsolidatedPayload) AppendRows(table string, rows []map[string]any) bool {
	switch table {
	case TableRecebiveis:
		p.Recebiveis = append(p.Recebiveis, rows...)
	case TableTipologia:
		p.Tipologia = append(p.Tipologia, rows...)
	case TableLandbank:
		p.Landbank = append(p.Landbank, rows...)
	case TableEndividamento:
		p.Endividamento = append(p.Endividamento, rows...)
	case TableViabilidade:
		p.Viabilidade = append(p.Viabilidade, rows...)
	default:
		return false
	}
	return true
}
