// Package metrics provides job execution metrics for a worker.
//
// Metrics counts executed and failed jobs, accepted and dropped launches,
// Sync calls and lifecycle transitions, and keeps a bounded sample of hook
// execution times for P99 estimation.
//
// # Basic Usage
//
//	m := metrics.New()
//
//	start := time.Now()
//	ok := hook(data1, data2)
//	m.RecordJob(ok, time.Since(start))
//
//	snap := m.Snapshot()
//	fmt.Printf("Jobs: %d, Failed: %d, P99: %v\n",
//	    snap.TotalJobs, snap.FailedJobs, snap.P99Exec)
//
// # Configuration
//
// Use NewWithConfig for custom settings:
//
//	config := metrics.Config{
//	    MaxLatencySamples: 5000, // More samples for P99 accuracy
//	}
//	m := metrics.NewWithConfig(config)
//
// # Thread Safety
//
// Counters are atomic; the latency sample is guarded by a RWMutex.
package metrics
