// Package shared provides a reference-counted, lazily opened process-wide
// handle.
//
// The first Acquire opens the value; every Acquire must be paired with a
// Release, and the last Release closes it. A later Acquire opens a fresh
// value. If opening fails the handle stays failed and every Acquire returns
// the same error.
//
//	var bus = shared.NewLazy("bus", openBus, closeBus)
//
//	b, err := bus.Acquire()
//	if err != nil {
//	    return err
//	}
//	defer bus.Release()
package shared
