package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Config はメトリクスの設定
type Config struct {
	MaxLatencySamples int // P99 算出用に保持する実行時間サンプル数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		MaxLatencySamples: 1000,
	}
}

// Metrics はワーカーのジョブ実行メトリクスを収集する
type Metrics struct {
	jobsSucceeded atomic.Uint64
	jobsFailed    atomic.Uint64
	totalExecNs   atomic.Uint64

	launches        atomic.Uint64
	launchesDropped atomic.Uint64
	syncs           atomic.Uint64
	totalSyncWaitNs atomic.Uint64
	resets          atomic.Uint64
	resetFailures   atomic.Uint64
	ends            atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	latencies         []time.Duration
	maxLatencySamples int
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	samples := config.MaxLatencySamples
	if samples <= 0 {
		samples = DefaultConfig().MaxLatencySamples
	}
	return &Metrics{
		startTime:         time.Now(),
		latencies:         make([]time.Duration, 0, samples),
		maxLatencySamples: samples,
	}
}

// RecordJob はフックの実行結果を記録する
func (m *Metrics) RecordJob(ok bool, took time.Duration) {
	if ok {
		m.jobsSucceeded.Add(1)
	} else {
		m.jobsFailed.Add(1)
	}
	m.totalExecNs.Add(uint64(took.Nanoseconds()))

	m.mu.Lock()
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, took)
	}
	m.mu.Unlock()
}

// RecordLaunch はジョブの投入を記録する
// dropped はワーカーが未起動でジョブが実行されなかったことを示す。
func (m *Metrics) RecordLaunch(dropped bool) {
	if dropped {
		m.launchesDropped.Add(1)
		return
	}
	m.launches.Add(1)
}

// RecordSync は Sync の待ち時間を記録する
func (m *Metrics) RecordSync(waited time.Duration) {
	m.syncs.Add(1)
	m.totalSyncWaitNs.Add(uint64(waited.Nanoseconds()))
}

// RecordReset は Reset の結果を記録する
func (m *Metrics) RecordReset(ok bool) {
	if ok {
		m.resets.Add(1)
		return
	}
	m.resetFailures.Add(1)
}

// RecordEnd は End を記録する
func (m *Metrics) RecordEnd() {
	m.ends.Add(1)
}

// TotalJobs は実行されたジョブ数を返す
func (m *Metrics) TotalJobs() uint64 {
	return m.jobsSucceeded.Load() + m.jobsFailed.Load()
}

// FailedJobs は失敗したジョブ数を返す
func (m *Metrics) FailedJobs() uint64 {
	return m.jobsFailed.Load()
}

// Launches は受理された Launch 数を返す
func (m *Metrics) Launches() uint64 {
	return m.launches.Load()
}

// DroppedLaunches は破棄された Launch 数を返す
func (m *Metrics) DroppedLaunches() uint64 {
	return m.launchesDropped.Load()
}

// JobsPerSecond は開始からの平均ジョブ実行数/秒を返す
func (m *Metrics) JobsPerSecond() float64 {
	m.mu.RLock()
	elapsed := time.Since(m.startTime).Seconds()
	m.mu.RUnlock()
	if elapsed == 0 {
		return 0
	}
	return float64(m.TotalJobs()) / elapsed
}

// AverageExec は平均実行時間を返す
func (m *Metrics) AverageExec() time.Duration {
	total := m.TotalJobs()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalExecNs.Load() / total)
}

// AverageSyncWait は Sync の平均待ち時間を返す
func (m *Metrics) AverageSyncWait() time.Duration {
	n := m.syncs.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(m.totalSyncWaitNs.Load() / n)
}

// P99Exec は実行時間の P99 を返す（サンプルベース）
func (m *Metrics) P99Exec() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// FailureRate はジョブ失敗率を返す（0.0〜1.0）
func (m *Metrics) FailureRate() float64 {
	total := m.TotalJobs()
	if total == 0 {
		return 0
	}
	return float64(m.jobsFailed.Load()) / float64(total)
}

// Reset は実行時間サンプルを破棄し、計測開始時刻を現在に戻す
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startTime = time.Now()
	m.latencies = m.latencies[:0]
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	TotalJobs       uint64        `json:"total_jobs"`
	FailedJobs      uint64        `json:"failed_jobs"`
	Launches        uint64        `json:"launches"`
	DroppedLaunches uint64        `json:"dropped_launches"`
	Syncs           uint64        `json:"syncs"`
	Resets          uint64        `json:"resets"`
	ResetFailures   uint64        `json:"reset_failures"`
	Ends            uint64        `json:"ends"`
	JobsPerSecond   float64       `json:"jobs_per_second"`
	AverageExec     time.Duration `json:"average_exec_ns"`
	P99Exec         time.Duration `json:"p99_exec_ns"`
	AverageSyncWait time.Duration `json:"average_sync_wait_ns"`
	FailureRate     float64       `json:"failure_rate"`
	Elapsed         time.Duration `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	start := m.startTime
	m.mu.RUnlock()

	return Snapshot{
		TotalJobs:       m.TotalJobs(),
		FailedJobs:      m.FailedJobs(),
		Launches:        m.Launches(),
		DroppedLaunches: m.DroppedLaunches(),
		Syncs:           m.syncs.Load(),
		Resets:          m.resets.Load(),
		ResetFailures:   m.resetFailures.Load(),
		Ends:            m.ends.Load(),
		JobsPerSecond:   m.JobsPerSecond(),
		AverageExec:     m.AverageExec(),
		P99Exec:         m.P99Exec(),
		AverageSyncWait: m.AverageSyncWait(),
		FailureRate:     m.FailureRate(),
		Elapsed:         time.Since(start),
	}
}
