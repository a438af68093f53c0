package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphAddVertexWiresUpstreamDownstream(t *testing.T) {
	g := NewGraph(NewID())
	source := g.AddVertex("source", 2, nil)
	sink := g.AddVertex("sink", 2, source)

	assert.Nil(t, g.GetUpstreamOperator(source))
	assert.Equal(t, sink, g.GetDownstreamOperator(source))
	assert.Equal(t, source, g.GetUpstreamOperator(sink))
	assert.Len(t, source.Subtasks, 2)
	assert.Len(t, sink.Subtasks, 2)
}

func TestGraphSourcesOnlyReturnsVerticesWithNoUpstream(t *testing.T) {
	g := NewGraph(NewID())
	source := g.AddVertex("source", 1, nil)
	g.AddVertex("sink", 1, source)

	sources := g.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, source.ID, sources[0].ID)
}

func TestGraphVerticesInCreationOrder(t *testing.T) {
	g := NewGraph(NewID())
	a := g.AddVertex("a", 1, nil)
	b := g.AddVertex("b", 1, a)
	c := g.AddVertex("c", 1, b)

	got := g.VerticesInCreationOrder()
	require.Len(t, got, 3)
	assert.Equal(t, []VertexID{a.ID, b.ID, c.ID}, []VertexID{got[0].ID, got[1].ID, got[2].ID})
}

func TestGraphVerticesByNameSubstringIsCaseInsensitive(t *testing.T) {
	g := NewGraph(NewID())
	g.AddVertex("WordCount", 1, nil)

	matches := g.VerticesByNameSubstring("wordcount")
	require.Len(t, matches, 1)
	assert.Equal(t, "WordCount", matches[0].Name)

	assert.Empty(t, g.VerticesByNameSubstring("nomatch"))
}

func TestGraphSubtasksOnTaskManager(t *testing.T) {
	g := NewGraph(NewID())
	jv := g.AddVertex("v", 2, nil)
	tm := NewID()
	jv.Subtasks[0].Slot = &Slot{TaskManagerID: tm}

	refs := g.SubtasksOnTaskManager(tm)
	require.Len(t, refs, 1)
	assert.Equal(t, jv.Subtasks[0].AttemptID, refs[0].Vertex.AttemptID)

	assert.Empty(t, g.SubtasksOnTaskManager(NewID()))
}

func TestGraphResetForNewExecutionMigrationRejectsStaleVersion(t *testing.T) {
	g := NewGraph(NewID())
	jv := g.AddVertex("v", 1, nil)
	sub := jv.Subtasks[0]
	originalAttempt := sub.AttemptID

	_, err := g.ResetForNewExecutionMigration(sub, time.Now(), g.GlobalModVersion()+1)
	require.ErrorIs(t, err, ErrGlobalModVersionMismatch)
	assert.Equal(t, originalAttempt, sub.AttemptID, "a rejected reset must not mutate the vertex")
}

func TestGraphResetForNewExecutionMigrationAdvancesAttemptAndVersion(t *testing.T) {
	g := NewGraph(NewID())
	jv := g.AddVertex("v", 1, nil)
	sub := jv.Subtasks[0]
	originalAttempt := sub.AttemptID
	version := g.GlobalModVersion()

	newAttempt, err := g.ResetForNewExecutionMigration(sub, time.Now(), version)
	require.NoError(t, err)
	assert.NotEqual(t, originalAttempt, newAttempt)
	assert.Equal(t, newAttempt, sub.AttemptID)
	assert.Equal(t, StateScheduled, sub.State())
	assert.Equal(t, version+1, g.GlobalModVersion())
}

func TestGraphFailGlobalMarksNonTerminalVerticesFailed(t *testing.T) {
	g := NewGraph(NewID())
	jv := g.AddVertex("v", 2, nil)
	jv.Subtasks[0].SetState(StateRunning)
	jv.Subtasks[1].SetState(StateFinished)

	cause := assert.AnError
	g.FailGlobal(cause)

	assert.Equal(t, StateFailed, jv.Subtasks[0].State())
	assert.Equal(t, cause, jv.Subtasks[0].FailureCause)
	assert.Equal(t, StateFinished, jv.Subtasks[1].State(), "a terminal subtask is left alone by FailGlobal")

	failed, failCause := g.Failed()
	assert.True(t, failed)
	assert.Equal(t, cause, failCause)
}

func TestVertexByAttemptFindsSubtask(t *testing.T) {
	g := NewGraph(NewID())
	jv := g.AddVertex("v", 1, nil)
	sub := jv.Subtasks[0]

	foundSub, foundJV, ok := g.VertexByAttempt(sub.AttemptID)
	require.True(t, ok)
	assert.Equal(t, sub, foundSub)
	assert.Equal(t, jv.ID, foundJV.ID)

	_, _, ok = g.VertexByAttempt(NewID())
	assert.False(t, ok)
}
