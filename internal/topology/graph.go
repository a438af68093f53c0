package topology

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Graph is the shared, read-mostly execution graph of a running job. It is
// mutated only through its own operations (ResetForNewExecutionMigration,
// FailGlobal, AddVertex) under its own discipline; the coordinator calls
// those operations but never reaches into graph state directly.
type Graph struct {
	JobID JobID

	mu       sync.RWMutex
	vertices map[VertexID]*ExecutionJobVertex
	order    []VertexID // creation order, for VerticesInCreationOrder

	globalModVersion uint64 // atomic

	failed    bool
	failCause error
}

// NewGraph creates an empty execution graph for jobID.
func NewGraph(jobID JobID) *Graph {
	return &Graph{
		JobID:    jobID,
		vertices: make(map[VertexID]*ExecutionJobVertex),
	}
}

// AddVertex appends a new logical vertex with the given parallelism,
// wiring it downstream of upstream (nil for a source). Mirrors the
// restart engine's createAndInsertOperator wiring step, factored out here
// since both initial topology construction and rescale share it.
func (g *Graph) AddVertex(name string, parallelism int, upstream *ExecutionJobVertex) *ExecutionJobVertex {
	g.mu.Lock()
	defer g.mu.Unlock()

	jv := &ExecutionJobVertex{
		ID:          NewID(),
		Name:        name,
		Parallelism: parallelism,
		upstream:    upstream,
	}
	for i := 0; i < parallelism; i++ {
		jv.Subtasks = append(jv.Subtasks, NewExecutionVertex(jv.ID, i))
	}
	if upstream != nil {
		upstream.downstream = jv
	}

	g.vertices[jv.ID] = jv
	g.order = append(g.order, jv.ID)
	return jv
}

// AllVertices returns every logical vertex keyed by VertexID.
func (g *Graph) AllVertices() map[VertexID]*ExecutionJobVertex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[VertexID]*ExecutionJobVertex, len(g.vertices))
	for k, v := range g.vertices {
		out[k] = v
	}
	return out
}

// VerticesInCreationOrder returns vertices in the order AddVertex was
// called, i.e. topological order for the DAGs this package models.
func (g *Graph) VerticesInCreationOrder() []*ExecutionJobVertex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*ExecutionJobVertex, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.vertices[id])
	}
	return out
}

// Sources returns every vertex with no upstream operator. The trigger
// engine delivers StartMigration/StartModification markers exclusively to
// these, under a single-source-per-job assumption.
func (g *Graph) Sources() []*ExecutionJobVertex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*ExecutionJobVertex
	for _, id := range g.order {
		jv := g.vertices[id]
		if jv.upstream == nil {
			out = append(out, jv)
		}
	}
	return out
}

// SubtaskRef pairs a running subtask with the logical operator it belongs
// to, since callers that locate a subtask by a cross-cutting property
// (host worker, name substring) usually need both.
type SubtaskRef struct {
	Vertex    *ExecutionVertex
	JobVertex *ExecutionJobVertex
}

// SubtasksOnTaskManager returns every subtask currently holding a slot on
// tm, across every vertex in the graph.
func (g *Graph) SubtasksOnTaskManager(tm ID) []SubtaskRef {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []SubtaskRef
	for _, id := range g.order {
		jv := g.vertices[id]
		for _, sub := range jv.Subtasks {
			if sub.Slot != nil && sub.Slot.TaskManagerID == tm {
				out = append(out, SubtaskRef{Vertex: sub, JobVertex: jv})
			}
		}
	}
	return out
}

// VerticesByNameSubstring returns every logical vertex whose Name contains
// needle, case-insensitively. Grounded directly on spec's own
// operator-selection policy; fragile by construction, since two unrelated
// operators sharing a substring collide. VertexByID or an exact-match
// lookup should be preferred by any caller that already has a VertexID.
func (g *Graph) VerticesByNameSubstring(needle string) []*ExecutionJobVertex {
	g.mu.RLock()
	defer g.mu.RUnlock()
	lower := strings.ToLower(needle)
	var out []*ExecutionJobVertex
	for _, id := range g.order {
		jv := g.vertices[id]
		if strings.Contains(strings.ToLower(jv.Name), lower) {
			out = append(out, jv)
		}
	}
	return out
}

// VertexByID returns the logical vertex identified by id.
func (g *Graph) VertexByID(id VertexID) (*ExecutionJobVertex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	jv, ok := g.vertices[id]
	return jv, ok
}

// GetUpstreamOperator returns v's single upstream operator, or nil if v is
// a source.
func (g *Graph) GetUpstreamOperator(v *ExecutionJobVertex) *ExecutionJobVertex {
	return v.upstream
}

// GetDownstreamOperator returns v's single downstream operator, or nil if
// v is a sink.
func (g *Graph) GetDownstreamOperator(v *ExecutionJobVertex) *ExecutionJobVertex {
	return v.downstream
}

// VertexByAttempt scans for the subtask currently holding attemptID. Used
// by the restart engine to correlate a late-arriving StateMigration reply
// with the paused ExecutionVertex it belongs to.
func (g *Graph) VertexByAttempt(attemptID ExecutionAttemptID) (*ExecutionVertex, *ExecutionJobVertex, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, jv := range g.vertices {
		if sub, ok := jv.SubtaskByAttempt(attemptID); ok {
			return sub, jv, true
		}
	}
	return nil, nil, false
}

// GlobalModVersion returns the graph's current modification version,
// bumped on every FailGlobal/ResetForNewExecutionMigration.
func (g *Graph) GlobalModVersion() uint64 {
	return atomic.LoadUint64(&g.globalModVersion)
}

// ResetForNewExecutionMigration allocates a fresh ExecutionAttemptID for
// vertex, verifying the caller's modVersion still matches the graph's. A
// mismatch means another modification advanced the graph concurrently,
// which the coordinator escalates to FailGlobal.
func (g *Graph) ResetForNewExecutionMigration(vertex *ExecutionVertex, now time.Time, modVersion uint64) (ExecutionAttemptID, error) {
	if current := g.GlobalModVersion(); current != modVersion {
		return ID{}, fmt.Errorf("%w: graph at version %d, caller expected %d", ErrGlobalModVersionMismatch, current, modVersion)
	}
	attempt := vertex.ResetForNewAttempt(vertex.Slot, now)
	atomic.AddUint64(&g.globalModVersion, 1)
	return attempt, nil
}

// FailGlobal marks every non-terminal vertex FAILED and records cause.
// The coordinator calls this whenever it deliberately escalates rather
// than attempting a partial, corrupting recovery.
func (g *Graph) FailGlobal(cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failed = true
	g.failCause = cause
	for _, jv := range g.vertices {
		for _, sub := range jv.Subtasks {
			switch sub.State() {
			case StateFinished, StateCanceled, StateFailed:
				continue
			}
			sub.SetState(StateFailed)
			sub.FailureCause = cause
		}
	}
	atomic.AddUint64(&g.globalModVersion, 1)
}

// Failed reports whether FailGlobal has ever been called, and with what
// cause.
func (g *Graph) Failed() (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.failed, g.failCause
}
