package session

import "sync"

// Registry tracks live calls by stream id.
type Registry struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

func NewRegistry() *Registry {
	return &Registry{calls: make(map[string]*Call)}
}

func (r *Registry) Add(c *Call) {
	r.mu.Lock()
	r.calls[c.StreamID] = c
	r.mu.Unlock()
}

func (r *Registry) Get(streamID string) (*Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[streamID]
	return c, ok
}

func (r *Registry) Remove(streamID string) {
	r.mu.Lock()
	delete(r.calls, streamID)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls)
}

// Each visits every live call. The callback must not add or remove
// calls.
func (r *Registry) Each(fn func(*Call)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.calls {
		fn(c)
	}
}
