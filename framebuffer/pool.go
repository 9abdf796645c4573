package framebuffer

import "sync"

// Pool is the pool of reusable FBs named in spec.md §6 (fb_pool_*). It is
// not a fixed-size ring: the free list is a sync.Pool, which keeps no fixed
// count and may discard pooled FBs at any time. It is grounded on the
// teacher's imagePool: reset-on-dimension-change, sync.Pool underneath.
//
// Spec.md treats this collaborator as "out of scope here beyond its
// existence" — callers needing pooled FBs (the resampler's copy path, for
// instance) use it purely for allocation reuse; it carries no policy about
// how many distinct resolutions it can hold at once, matching the
// teacher's single-resolution imagePool.
type Pool struct {
	mu   sync.Mutex
	pool sync.Pool
	w, h int
}

// NewPool creates an empty FB pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns a pooled FB matching (width, height), allocating a fresh one
// via newFB if the pool is empty or the resolution changed.
func (p *Pool) Get(width, height int, newFB func() *FB) *FB {
	p.mu.Lock()
	if p.w != width || p.h != height {
		p.w, p.h = width, height
		p.pool = sync.Pool{}
	}
	p.mu.Unlock()

	if v := p.pool.Get(); v != nil {
		fb := v.(*FB)
		fb.ref.Store(1)
		fb.hold.Store(0)
		return fb
	}
	return newFB()
}

// Put returns fb to the pool if its dimensions match what the pool is
// currently sized for; a pool not yet sized by Get or Put takes fb's
// dimensions. Otherwise fb is dropped (left for the GC).
func (p *Pool) Put(fb *FB) {
	p.mu.Lock()
	if p.w == 0 && p.h == 0 {
		p.w, p.h = fb.Width, fb.Height
	}
	match := p.w == fb.Width && p.h == fb.Height
	p.mu.Unlock()
	if match {
		p.pool.Put(fb)
	}
}
