// Package slotpool provides an in-memory coordinator.SlotProvider: a
// fixed-size registry of task-manager capacity. Each task manager
// advertises a slot count the way a worker advertises itself in a
// pull-based worker registry, and the pool hands out/reclaims slots the
// same way that registry tracks worker status.
package slotpool

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"github.com/artemis/flowmod/internal/topology"
)

// taskManagerEntry is one registered task manager's advertised capacity.
type taskManagerEntry struct {
	location   topology.TaskManagerLocation
	capacity   int
	allocated  int
}

// Pool is a coordinator-local, in-memory slot allocator. It tracks
// capacity per task manager and hands out topology.Slot values on
// request; it does not itself talk to any task manager, leaving actual
// deployment to internal/transport's Gateway.
type Pool struct {
	mu  sync.Mutex
	log *zap.Logger
	tms map[topology.ID]*taskManagerEntry
}

// ErrNoCapacity is returned when no task manager (other than any excluded
// one) has a free slot.
var ErrNoCapacity = fmt.Errorf("slotpool: no task manager has free capacity")

// New constructs an empty pool. log may be nil.
func New(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{log: log, tms: make(map[topology.ID]*taskManagerEntry)}
}

// Register adds or updates a task manager's advertised slot capacity.
// Task managers call this once on connect and whenever their own
// resource count changes.
func (p *Pool) Register(location topology.TaskManagerLocation, capacity int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.tms[location.TaskManagerID]
	if !ok {
		entry = &taskManagerEntry{location: location}
		p.tms[location.TaskManagerID] = entry
	}
	entry.location = location
	entry.capacity = capacity
	p.log.Info("task manager registered with pool",
		zap.String("task_manager_id", location.TaskManagerID.String()),
		zap.Int("capacity", capacity),
	)
}

// Unregister removes a task manager, e.g. on disconnect. Slots it was
// holding are not separately released; the caller is expected to have
// already migrated off it.
func (p *Pool) Unregister(id topology.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tms, id)
}

// AllocateSlotExceptOnTaskManager implements coordinator.SlotProvider. It
// picks uniformly at random among task managers with free capacity other
// than exclude, avoiding the pathological bias a simple map-iteration
// order would introduce toward whichever entry Go's runtime happens to
// visit first.
func (p *Pool) AllocateSlotExceptOnTaskManager(ctx context.Context, exclude topology.ID) (*topology.Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var candidates []*taskManagerEntry
	for id, entry := range p.tms {
		if id == exclude {
			continue
		}
		if entry.allocated < entry.capacity {
			candidates = append(candidates, entry)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoCapacity
	}
	chosen := candidates[rand.Intn(len(candidates))]
	chosen.allocated++
	return &topology.Slot{
		TaskManagerID:       chosen.location.TaskManagerID,
		TaskManagerLocation: chosen.location,
	}, nil
}

// Release returns slot's capacity to its task manager. A slot whose task
// manager has since been unregistered is silently dropped.
func (p *Pool) Release(slot *topology.Slot) {
	if slot == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.tms[slot.TaskManagerID]
	if !ok {
		return
	}
	if entry.allocated > 0 {
		entry.allocated--
	}
}

// Snapshot reports current capacity/allocation per task manager, for
// status endpoints and tests.
func (p *Pool) Snapshot() map[topology.ID]struct{ Capacity, Allocated int } {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[topology.ID]struct{ Capacity, Allocated int }, len(p.tms))
	for id, entry := range p.tms {
		out[id] = struct{ Capacity, Allocated int }{entry.capacity, entry.allocated}
	}
	return out
}
