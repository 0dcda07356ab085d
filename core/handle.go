package core

import (
	"fmt"
	"sync"
)

// Handle is a weak, copyable reference to a service. The low 32 bits
// index a registry slot and the high 32 bits carry the slot generation,
// so a handle to a removed service never resolves to its successor.
type Handle uint64

// NoHandle is the zero handle; it never resolves.
const NoHandle Handle = 0

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 {
	return uint32(h)
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

// String returns a string representation of the handle.
func (h Handle) String() string {
	return fmt.Sprintf(":%016x", uint64(h))
}

// slot is one arena cell. gen is bumped on every removal.
type slot struct {
	gen uint32
	svc *service
}

// registry owns every live service. Lookups are O(1) and take the read
// lock only long enough to check liveness.
type registry struct {
	mu    sync.RWMutex
	slots []slot
	free  []uint32
	names map[string]Handle
	count int
}

func newRegistry() *registry {
	return &registry{
		// slot 0 is reserved so that no live handle equals NoHandle
		slots: make([]slot, 1),
		names: make(map[string]Handle),
	}
}

// insert stores svc, assigns its handle and registers its name.
func (r *registry) insert(svc *service) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc.name != "" {
		if _, exists := r.names[svc.name]; exists {
			return NoHandle, fmt.Errorf("%w: %s", ErrServiceExists, svc.name)
		}
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = uint32(len(r.slots))
		r.slots = append(r.slots, slot{})
	}

	s := &r.slots[index]
	if s.gen == 0 {
		s.gen = 1
	}
	s.svc = svc

	h := makeHandle(index, s.gen)
	svc.handle = h
	if svc.name != "" {
		r.names[svc.name] = h
	}
	r.count++
	return h, nil
}

// remove detaches the service behind h. Later resolutions of h fail.
func (r *registry) remove(h Handle) (*service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slotFor(h)
	if !ok {
		return nil, false
	}
	svc := s.svc
	s.svc = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.free = append(r.free, h.index())
	if svc.name != "" {
		delete(r.names, svc.name)
	}
	r.count--
	return svc, true
}

// resolve returns the live service for h.
func (r *registry) resolve(h Handle) (*service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slotFor(h)
	if !ok {
		return nil, false
	}
	return s.svc, true
}

// slotFor must be called with r.mu held.
func (r *registry) slotFor(h Handle) (*slot, bool) {
	index := h.index()
	if h == NoHandle || int(index) >= len(r.slots) {
		return nil, false
	}
	s := &r.slots[index]
	if s.svc == nil || s.gen != h.generation() {
		return nil, false
	}
	return s, true
}

// lookupName returns the handle registered under name.
func (r *registry) lookupName(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.names[name]
	return h, ok
}

// list returns all live services ordered by slot.
func (r *registry) list() []*service {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]*service, 0, r.count)
	for i := range r.slots {
		if r.slots[i].svc != nil {
			services = append(services, r.slots[i].svc)
		}
	}
	return services
}

// size returns the number of live services.
func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
