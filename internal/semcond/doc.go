// Package semcond provides a condition variable built from two binary
// semaphores and an auto-reset event.
//
// It exists for callers that cannot use sync.Cond directly and need the
// same Wait/Signal contract with a single waiter. Cond has the same method
// set as *sync.Cond for Wait and Signal, so both can sit behind one
// interface.
//
// # Protocol
//
// Wait announces itself on the waiting semaphore, releases the mutex and
// blocks on the wake event. Once woken it posts the received semaphore and
// re-acquires the mutex.
//
// Signal takes the waiting semaphore without blocking. If nobody is waiting
// the signal is dropped. Otherwise it sets the wake event and blocks until
// the waiter posts received, so a second Signal can never be folded into
// the same wake or leak into a later, unrelated Wait.
//
// # Basic Usage
//
//	var mu sync.Mutex
//	cond, err := semcond.New(&mu)
//	if err != nil {
//	    return err
//	}
//	defer cond.Close()
//
//	mu.Lock()
//	for !ready {
//	    cond.Wait()
//	}
//	mu.Unlock()
//
// # Limits
//
// The protocol is only correct for one parked waiter at a time. Broadcast
// is not provided.
package semcond
