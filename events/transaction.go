package events

import (
	"fmt"
	"sync"
)

type txItem struct {
	key     string
	payload any
}

// Transaction accumulates events and publishes them strictly
// sequentially on Commit (spec.md §4.E). The zero value is not usable;
// obtain one from Bus.CreateTransaction.
type Transaction struct {
	bus *Bus

	mu        sync.Mutex
	items     []txItem
	committed bool
	disposed  bool

	done chan struct{}
	err  error
}

// CreateTransaction returns a new, open Transaction bound to b.
func (b *Bus) CreateTransaction() *Transaction {
	return &Transaction{bus: b, done: make(chan struct{})}
}

// Enqueue queues e for publication under E's type-name key. It fails
// with ErrTransactionCommitted once Commit has run.
func Enqueue[E any](tx *Transaction, e E) error {
	return tx.enqueue(typeKeyOf[E](), e)
}

// EnqueueKey queues payload for publication under an explicit key.
func EnqueueKey(tx *Transaction, key string, payload any) error {
	return tx.enqueue(key, payload)
}

func (tx *Transaction) enqueue(key string, payload any) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.committed {
		return ErrTransactionCommitted
	}
	if tx.disposed {
		return ErrTransactionDisposed
	}
	tx.items = append(tx.items, txItem{key: key, payload: payload})
	return nil
}

// Commit snapshots the queued events, forbids further Enqueue calls,
// and publishes the snapshot strictly sequentially in a background
// goroutine: event k+1 is published only after event k's Publish call
// has returned. Commit returns nothing; failures surface through
// WaitForCompletion.
func (tx *Transaction) Commit() {
	tx.mu.Lock()
	if tx.committed {
		tx.mu.Unlock()
		return
	}
	tx.committed = true
	items := make([]txItem, len(tx.items))
	copy(items, tx.items)
	tx.mu.Unlock()

	go func() {
		for _, it := range items {
			func() {
				defer func() {
					if p := recover(); p != nil {
						tx.recordError(&TransactionPublishError{Key: it.key, Cause: panicError(p)})
					}
				}()
				tx.bus.publish(it.key, it.payload)
			}()
			tx.mu.Lock()
			failed := tx.err != nil
			tx.mu.Unlock()
			if failed {
				break
			}
		}
		close(tx.done)
	}()
}

func (tx *Transaction) recordError(err error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.err == nil {
		tx.err = err
	}
}

// WaitForCompletion blocks until every committed event has finished
// publishing (or publishing has stopped at the first panic raised while
// publishing an event), returning the first recorded error, if any.
//
// Publish itself never returns a per-subscriber error (spec.md §4.D:
// failures are logged by the subscription worker, not surfaced to the
// publisher), so in practice this only ever reports a panic raised
// directly out of Bus.publish — included for completeness with the
// transaction's documented failure contract (spec.md §4.E).
func (tx *Transaction) WaitForCompletion() error {
	<-tx.done
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.err
}

// Dispose commits the transaction if it has queued events and was
// never committed, then waits for completion, releasing all resources
// on every exit path.
func (tx *Transaction) Dispose() error {
	tx.mu.Lock()
	if tx.disposed {
		tx.mu.Unlock()
		return nil
	}
	tx.disposed = true
	needsCommit := !tx.committed && len(tx.items) > 0
	tx.mu.Unlock()

	if needsCommit {
		tx.Commit()
	}
	if tx.committed {
		return tx.WaitForCompletion()
	}
	return nil
}

// TransactionPublishError wraps a panic recovered while publishing one
// transaction event, identified by its routing key.
type TransactionPublishError struct {
	Key   string
	Cause error
}

func (e *TransactionPublishError) Error() string {
	return Namespace + ": publishing " + e.Key + " panicked: " + e.Cause.Error()
}

func (e *TransactionPublishError) Unwrap() error { return e.Cause }

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}
