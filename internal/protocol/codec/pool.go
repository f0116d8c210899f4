package codec

import (
	"sync"
)

// Pool hands out preallocated slots for ParamBlocks. Each slot carries a
// fixed arena for padded copies, so padding does not touch the heap. A
// Pool is safe for concurrent use.
type Pool struct {
	mu   sync.Mutex
	free []*slot
	size int
}

// slot is the reusable memory behind one pooled block. Every acquire
// wraps it in a fresh ParamBlock, so a stale handle can never release a
// slot that has moved on to a new owner.
type slot struct {
	pool   *Pool
	fields []FieldView
	arena  []byte
	used   int
}

func (s *slot) take(n int) ([]byte, bool) {
	if s.used+n > len(s.arena) {
		return nil, false
	}
	buf := s.arena[s.used : s.used+n : s.used+n]
	s.used += n
	return buf, true
}

func (s *slot) reset() {
	clear(s.arena[:s.used])
	s.used = 0
}

// NewPool preallocates slots blocks, each able to hold maxFields views
// and slabBytes of padded data.
func NewPool(slots, maxFields, slabBytes int) *Pool {
	p := &Pool{free: make([]*slot, 0, slots), size: slots}
	for i := 0; i < slots; i++ {
		p.free = append(p.free, &slot{
			pool:   p,
			fields: make([]FieldView, 0, maxFields),
			arena:  make([]byte, slabBytes),
		})
	}
	return p
}

// Available returns the number of idle slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Size returns the number of slots the pool was built with.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) get() (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, ErrAllocation
	}
	s := p.free[n-1]
	p.free = p.free[:n-1]
	return s, nil
}

func (p *Pool) put(s *slot) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
}

// acquire returns a block for id backed by a pool slot, or a heap block
// when pool is nil.
func acquire(pool *Pool, id uint32, fields int) (*ParamBlock, error) {
	if pool == nil {
		return &ParamBlock{MessageID: id, Fields: make([]FieldView, 0, fields)}, nil
	}
	s, err := pool.get()
	if err != nil {
		return nil, err
	}
	return &ParamBlock{MessageID: id, Fields: s.fields[:0], slot: s}, nil
}
