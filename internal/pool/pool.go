// Package pool hands out reusable slot values. Every event and task
// Subscription starts workerCount goroutines that drain its unbounded
// queue.Queue; each goroutine takes one slot from a fixed Pool sized to
// workerCount when it starts and returns it when it exits, so the slot
// serves as that worker's identity (index and logger). The number of
// goroutines started, not the Pool, is what bounds concurrency.
package pool

// Pool hands out and reclaims reusable slot values.
type Pool interface {
	// Get returns a slot, creating one if under capacity or blocking
	// until one is returned via Put otherwise.
	Get() interface{}

	// Put returns a slot to the pool.
	Put(interface{})
}
