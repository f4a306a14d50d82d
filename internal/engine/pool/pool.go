// Package pool implements the engine's three counting semaphores
// (standard, llm, ai) described in §4.2 of the specification.
package pool

import (
	"context"
	"sort"

	"golang.org/x/sync/semaphore"
)

const (
	Standard = "standard"
	LLM      = "llm"
	AI       = "ai"
)

// Pools holds the three independent counting semaphores sized from
// execution configuration.
type Pools struct {
	sems map[string]*semaphore.Weighted
}

// New builds the pool set. standardSize is max_concurrent_nodes;
// aiConcurrentLimit sizes both the llm and ai pools, matching the
// documented defaults (§6).
func New(standardSize, aiConcurrentLimit int) *Pools {
	return &Pools{
		sems: map[string]*semaphore.Weighted{
			Standard: semaphore.NewWeighted(int64(standardSize)),
			LLM:      semaphore.NewWeighted(int64(aiConcurrentLimit)),
			AI:       semaphore.NewWeighted(int64(aiConcurrentLimit)),
		},
	}
}

// Release is returned by Acquire; it releases every held permit, in the
// reverse of acquisition order.
type Release func()

// Acquire acquires every pool named in tags, in a fixed lexicographic
// order (ai, llm, standard) to make deadlock impossible: any node blocked
// waiting for one of its permits never holds a permit acquired later in
// the order, so a cycle of waiters cannot form. Release releases in
// reverse order. An empty or unrecognized tag set acquires nothing and
// always returns a successful no-op release — callers that declare no
// pool are never pool-bound.
func (p *Pools) Acquire(ctx context.Context, tags []string) (Release, error) {
	ordered := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if p.sems[t] == nil || seen[t] {
			continue
		}
		seen[t] = true
		ordered = append(ordered, t)
	}
	sort.Strings(ordered)

	acquired := make([]string, 0, len(ordered))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			p.sems[acquired[i]].Release(1)
		}
	}

	for _, name := range ordered {
		if err := p.sems[name].Acquire(ctx, 1); err != nil {
			release()
			return func() {}, err
		}
		acquired = append(acquired, name)
	}
	return release, nil
}
