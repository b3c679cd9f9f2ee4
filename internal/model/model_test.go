package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectTransitions(t *testing.T) {
	assert.True(t, ProjectCreated.CanTransition(ProjectProcessing))
	assert.True(t, ProjectProcessing.CanTransition(ProjectReady))
	assert.True(t, ProjectProcessing.CanTransition(ProjectFailed))
	assert.True(t, ProjectReady.CanTransition(ProjectProcessing), "reprocess re-enters processing")
	assert.True(t, ProjectFailed.CanTransition(ProjectProcessing))

	assert.False(t, ProjectCreated.CanTransition(ProjectReady))
	assert.False(t, ProjectReady.CanTransition(ProjectFailed))
}

func TestRunTransitions(t *testing.T) {
	assert.True(t, RunCreated.CanTransition(RunProcessing))
	assert.True(t, RunCreated.CanTransition(RunFailed), "abort at kickoff")
	assert.True(t, RunProcessing.CanTransition(RunReady))
	assert.True(t, RunProcessing.CanTransition(RunFailed))

	// Terminal runs are immutable.
	assert.False(t, RunReady.CanTransition(RunProcessing))
	assert.False(t, RunFailed.CanTransition(RunProcessing))
	assert.True(t, RunReady.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.False(t, RunProcessing.Terminal())
}

func TestDocumentTransitions(t *testing.T) {
	assert.True(t, DocCreated.CanTransition(DocQueued))
	assert.True(t, DocQueued.CanTransition(DocProcessing))
	assert.True(t, DocProcessing.CanTransition(DocDone))
	assert.True(t, DocProcessing.CanTransition(DocFailed))
	assert.True(t, DocDone.CanTransition(DocQueued), "reprocess requeues done documents")
	assert.True(t, DocFailed.CanTransition(DocQueued))

	assert.False(t, DocDone.CanTransition(DocProcessing))
	assert.False(t, DocQueued.CanTransition(DocDone))
}

func TestAppendRows(t *testing.T) {
	p := NewConsolidatedPayload()
	ok := p.AppendRows(TableRecebiveis, []map[string]any{{"C": "101"}})
	assert.True(t, ok)
	assert.Len(t, p.Recebiveis, 1)

	ok = p.AppendRows("Desconhecida", []map[string]any{{"A": 1}})
	assert.False(t, ok)

	assert.Equal(t, p.Recebiveis, p.TableRows(TableRecebiveis))
	assert.Nil(t, p.TableRows("Desconhecida"))
}
