package globe

import "sync"

// ResourceKind is a class of render resource that must be released.
type ResourceKind string

const (
	KindGeometry ResourceKind = "geometry"
	KindMaterial ResourceKind = "material"
	KindTexture  ResourceKind = "texture"
)

// ResourceTracker counts live render resources. A renderer mirrors Acquire
// and Release onto real GPU handles; tests use Live to catch leaks.
type ResourceTracker struct {
	mu       sync.Mutex
	live     map[ResourceKind]int
	acquired int
	released int
}

func NewResourceTracker() *ResourceTracker {
	return &ResourceTracker{live: make(map[ResourceKind]int)}
}

func (t *ResourceTracker) Acquire(kind ResourceKind) {
	t.mu.Lock()
	t.live[kind]++
	t.acquired++
	t.mu.Unlock()
}

func (t *ResourceTracker) Release(kind ResourceKind) {
	t.mu.Lock()
	if t.live[kind] > 0 {
		t.live[kind]--
		t.released++
	}
	t.mu.Unlock()
}

// Live returns the number of unreleased resources of kind, or of every kind
// when kind is empty.
func (t *ResourceTracker) Live(kind ResourceKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind != "" {
		return t.live[kind]
	}
	total := 0
	for _, n := range t.live {
		total += n
	}
	return total
}

func (t *ResourceTracker) Totals() (acquired, released int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.acquired, t.released
}
