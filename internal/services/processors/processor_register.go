package processors

import (
	"context"
	"fmt"
	"sync"

	"rag-engine/internal/models"
	"rag-engine/internal/services"
)

// Registry maps lanes to their processors. It is populated once at bootstrap
// and read-only afterwards; there is no runtime discovery.
type Registry struct {
	mu         sync.RWMutex
	processors map[models.Lane]Processor
}

// NewRegistry creates an empty lane registry.
func NewRegistry() *Registry {
	return &Registry{
		processors: make(map[models.Lane]Processor),
	}
}

// Register installs the processor for its lane, replacing any previous one.
func (r *Registry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[p.Lane()] = p
}

// Get returns the processor for a lane.
func (r *Registry) Get(lane models.Lane) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[lane]
	return p, ok
}

// Process dispatches a work item to its lane's processor.
func (r *Registry) Process(ctx context.Context, item *models.WorkItem) error {
	p, ok := r.Get(item.Lane)
	if !ok {
		return fmt.Errorf("no processor registered for lane %q", item.Lane)
	}
	return p.Process(ctx, item)
}

// RegisterAll wires both lane processors onto a registry. Call once during
// bootstrap with the shared dependency set.
func RegisterAll(reg *Registry, base BaseProcessor,
	textExtractor *services.TextExtractor, visualExtractor *services.VisualExtractor) {
	reg.Register(NewTextProcessor(base, textExtractor))
	reg.Register(NewVisualProcessor(base, visualExtractor))
}
