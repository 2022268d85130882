package metrics

import "sync"

// runRecipeIndex maps live run ids to recipe names so step-level counters
// can carry a recipe label. Entries drop when the run finishes.
type runRecipeIndex struct {
	mu sync.Mutex
	m  map[string]string
}

func newRunRecipeIndex() *runRecipeIndex {
	return &runRecipeIndex{m: make(map[string]string)}
}

func (i *runRecipeIndex) put(runID, recipe string) {
	i.mu.Lock()
	i.m[runID] = recipe
	i.mu.Unlock()
}

func (i *runRecipeIndex) get(runID string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	if name, ok := i.m[runID]; ok {
		return name
	}
	return "unknown"
}

func (i *runRecipeIndex) drop(runID string) {
	i.mu.Lock()
	delete(i.m, runID)
	i.mu.Unlock()
}
