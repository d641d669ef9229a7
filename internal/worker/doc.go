// Package worker offloads one job at a time to a single background goroutine.
//
// A Worker moves through three states. NotOK means no goroutine exists, OK
// means the goroutine is parked waiting for work, and Work means a hook is
// running or about to run. Reset brings the goroutine up, Launch hands it a
// job without waiting, Sync waits for the job and reports whether any hook
// failed since the last Reset, and End joins the goroutine.
//
// # Basic Usage
//
//	w := worker.New()
//	if !w.Reset() {
//	    return errors.New("cannot start worker")
//	}
//	defer w.End()
//
//	w.Launch(func(a, b any) bool {
//	    return decode(a.([]byte), b.(*Frame))
//	}, buf, frame)
//	// do other work
//	if !w.Sync() {
//	    // a hook returned false
//	}
//
// There is no queue. A second Launch before Sync blocks until the first job
// completes. Hooks must not call back into the worker running them.
//
// # Condition Variables
//
// The goroutine parks on sync.Cond by default. WithEmulatedCond switches to
// semcond.Cond, and WithCondFactory accepts any implementation with the same
// Wait and Signal methods.
//
// # Interface Table
//
// SetInterface replaces the process-wide Interface. Threaded is the default;
// Inline runs each job on the caller at Launch time.
package worker
