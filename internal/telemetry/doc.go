// Package telemetry bundles the event bus and job metrics that workers report
// into.
//
// One process-wide instance is opened on the first Acquire and closed when the
// last holder calls Release. Callers that want isolation, such as tests, build
// their own with New.
package telemetry
