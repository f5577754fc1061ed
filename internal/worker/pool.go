package worker

import (
	"sync"

	"github.com/meetfocus/focus/internal/config"
	"github.com/meetfocus/focus/internal/metrics"
)

// Pool maintains the live worker set announced over the presence channel
// (internal/bus) and selects one on demand (spec.md §4.C).
type Pool struct {
	mu      sync.Mutex
	workers map[string]*Worker
	cfg     *config.Config
}

// NewPool builds an empty Pool.
func NewPool(cfg *config.Config) *Pool {
	return &Pool{workers: make(map[string]*Worker), cfg: cfg}
}

// Upsert registers or updates a worker's presence announcement.
func (p *Pool) Upsert(w *Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[w.ID] = w
}

// Remove drops a worker, e.g. on a presence-channel departure event.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.workers, id)
}

// Get returns worker id, if known.
func (p *Pool) Get(id string) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[id]
	return w, ok
}

// SelectWorker implements spec.md §4.C's selection algorithm: filter out
// excluded/shut-down/capability-missing workers, then prefer a preferred
// region, then a configured region-group, then the local region, then any;
// tie-break by lowest participantCount. Returns nil when no candidate
// qualifies.
func (p *Pool) SelectWorker(exclude map[string]bool, preferredRegion string, capability Capability) *Worker {
	p.mu.Lock()
	candidates := make([]*Worker, 0, len(p.workers))
	for id, w := range p.workers {
		if exclude[id] || w.IsInGracefulShutdown || !w.hasCapability(capability) {
			continue
		}
		candidates = append(candidates, w)
	}
	p.mu.Unlock()

	if len(candidates) == 0 {
		metrics.WorkerSelections.WithLabelValues(string(capability), "failed").Inc()
		return nil
	}

	if preferredRegion != "" {
		if w := leastLoaded(filterRegion(candidates, preferredRegion)); w != nil {
			metrics.WorkerSelections.WithLabelValues(string(capability), "selected").Inc()
			return w
		}
		if w := leastLoaded(filterRegions(candidates, p.regionGroup(preferredRegion))); w != nil {
			metrics.WorkerSelections.WithLabelValues(string(capability), "selected").Inc()
			return w
		}
	}

	if w := leastLoaded(filterRegion(candidates, p.localRegion())); w != nil {
		metrics.WorkerSelections.WithLabelValues(string(capability), "selected").Inc()
		return w
	}

	winner := leastLoaded(candidates)
	if winner != nil {
		metrics.WorkerSelections.WithLabelValues(string(capability), "selected").Inc()
	} else {
		metrics.WorkerSelections.WithLabelValues(string(capability), "failed").Inc()
	}
	return winner
}

func (p *Pool) regionGroup(region string) []string {
	if p.cfg == nil {
		return nil
	}
	return p.cfg.RegionGroup(region)
}

func (p *Pool) localRegion() string {
	if p.cfg == nil {
		return ""
	}
	return p.cfg.LocalRegion
}

func filterRegion(workers []*Worker, region string) []*Worker {
	return filterRegions(workers, []string{region})
}

func filterRegions(workers []*Worker, regions []string) []*Worker {
	if len(regions) == 0 {
		return nil
	}
	set := make(map[string]bool, len(regions))
	for _, r := range regions {
		set[r] = true
	}
	var out []*Worker
	for _, w := range workers {
		if set[w.Region] {
			out = append(out, w)
		}
	}
	return out
}

func leastLoaded(workers []*Worker) *Worker {
	var winner *Worker
	for _, w := range workers {
		if winner == nil || w.ParticipantCount < winner.ParticipantCount {
			winner = w
		}
	}
	return winner
}
