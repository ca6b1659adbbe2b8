package worker

import (
	"errors"
	"sort"
	"sync"
)

var ErrDuplicateTask = errors.New("task already has a worker in this process")

// Group is an in-process registry of running workers keyed by task id.
// It exists for bookkeeping and graceful shutdown only; the store's
// claim is what prevents double execution, with or without a Group.
type Group struct {
	mu      sync.Mutex
	workers map[string]*Worker
}

func NewGroup() *Group {
	return &Group{workers: make(map[string]*Worker)}
}

func (g *Group) Add(w *Worker) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.workers[w.ID()]; ok {
		return ErrDuplicateTask
	}
	g.workers[w.ID()] = w
	return nil
}

// Stop stops and removes the worker for id, reporting whether one existed.
func (g *Group) Stop(id string) bool {
	g.mu.Lock()
	w, ok := g.workers[id]
	delete(g.workers, id)
	g.mu.Unlock()
	if ok {
		w.Stop()
	}
	return ok
}

func (g *Group) StopAll() {
	g.mu.Lock()
	workers := g.workers
	g.workers = make(map[string]*Worker)
	g.mu.Unlock()
	for _, w := range workers {
		w.Stop()
	}
}

func (g *Group) Contains(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.workers[id]
	return ok
}

func (g *Group) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.workers))
	for id := range g.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
