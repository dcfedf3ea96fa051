// Package namepool hands out and recycles short worker identifiers of the
// form "worker<N>" (spec §4.1).
package namepool

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
)

var nameRe = regexp.MustCompile(`^worker(\d+)$`)

// Pool allocates names "worker1", "worker2", ... preferring recycled ids
// (sorted ascending) over new allocations.
type Pool struct {
	mu       sync.Mutex
	next     int
	recycled []int
}

// New creates an empty pool; the first Acquire returns "worker1".
func New() *Pool {
	return &Pool{next: 1}
}

// Acquire returns the next available name.
func (p *Pool) Acquire() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.recycled) > 0 {
		sort.Ints(p.recycled)
		id := p.recycled[0]
		p.recycled = p.recycled[1:]
		return fmt.Sprintf("worker%d", id)
	}

	id := p.next
	p.next++
	return fmt.Sprintf("worker%d", id)
}

// Release returns name to the pool. Invalid names are ignored. Releasing
// the same name twice is deduplicated.
func (p *Pool) Release(name string) {
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.recycled {
		if existing == id {
			return
		}
	}
	if id >= p.next {
		// Never allocated; nothing to recycle.
		return
	}
	p.recycled = append(p.recycled, id)
}

// Reconcile sets the next allocation to one past the maximum id present in
// inUse and clears the recycled list (called on startup once live workers
// are known, e.g. from a recovered session).
func (p *Pool) Reconcile(inUse []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	max := 0
	for _, name := range inUse {
		m := nameRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if id > max {
			max = id
		}
	}
	p.next = max + 1
	p.recycled = nil
}
