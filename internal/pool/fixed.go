package pool

// fixed bounds the number of live slots to capacity. Get creates new
// slots lazily until capacity is reached, then blocks on available
// until a slot is returned via Put. A subscription sizes it to its
// workerCount, so each of its workers gets a slot without blocking.
type fixed struct {
	available chan interface{}
	newFn     func() interface{}
	capacity  uint

	mu      chan struct{} // 1-buffered mutex guarding 'created'
	created uint
}

// NewFixed returns a Pool that never holds more than capacity live
// slots. capacity must be > 0; a zero capacity pool blocks forever on
// Get, which callers should treat as a configuration error upstream
// (subscription options validation rejects workerCount == 0).
func NewFixed(capacity uint, newFn func() interface{}) Pool {
	mu := make(chan struct{}, 1)
	mu <- struct{}{}
	return &fixed{
		available: make(chan interface{}, capacity),
		newFn:     newFn,
		capacity:  capacity,
		mu:        mu,
	}
}

func (p *fixed) Get() interface{} {
	select {
	case el := <-p.available:
		return el
	default:
	}

	<-p.mu
	if p.created < p.capacity {
		p.created++
		p.mu <- struct{}{}
		return p.newFn()
	}
	p.mu <- struct{}{}

	// At capacity: block until a slot is returned.
	return <-p.available
}

func (p *fixed) Put(el interface{}) {
	select {
	case p.available <- el:
	default:
		// Should not happen: available has room for 'capacity' slots and
		// we never create more than that, but never block a Put either.
	}
}
