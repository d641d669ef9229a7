package stress

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"handoff/internal/events"
	"handoff/internal/logger"
	"handoff/internal/metrics"
	"handoff/internal/telemetry"
	"handoff/internal/worker"
)

var (
	// ErrAlreadyRunning は実行中のエンジンで Run が呼ばれた場合に返される
	ErrAlreadyRunning = errors.New("stress run is already in progress")
	// ErrResetFailed はワーカーを起動できなかった場合に返される
	ErrResetFailed = errors.New("worker reset failed")
)

const engineID = "stress"

// Config はストレス実行の設定
type Config struct {
	Name        string // シナリオ名
	Description string // 説明

	Workers    int           // 並行に動かすワーカー数（0 は 1 とみなす）
	Iterations int           // ワーカーあたりの Launch/Sync の往復回数
	FailEvery  int           // N 回に 1 回フックを失敗させる（0 で無効）
	ResetEvery int           // N 回ごとに End と Reset を挟む（0 で無効）
	JobDelay   time.Duration // フック 1 回あたりの処理時間

	Emulated     bool // semcond の条件変数を使う
	LockOSThread bool // ワーカーを OS スレッドに固定する

	PingPongRounds int // 条件変数の往復回数（0 で省略）
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Description:    "Default launch/sync run",
		Iterations:     1000,
		PingPongRounds: 1000,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative")
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must be non-negative")
	}
	if c.FailEvery < 0 {
		return fmt.Errorf("fail_every must be non-negative")
	}
	if c.ResetEvery < 0 {
		return fmt.Errorf("reset_every must be non-negative")
	}
	if c.JobDelay < 0 {
		return fmt.Errorf("job_delay must be non-negative")
	}
	if c.PingPongRounds < 0 {
		return fmt.Errorf("ping_pong_rounds must be non-negative")
	}
	return nil
}

// CondName は使用する条件変数の名前を返す
func (c Config) CondName() string {
	if c.Emulated {
		return "emulated"
	}
	return "native"
}

// Phase は実行フェーズ 1 つ分の結果
type Phase struct {
	Name string        `json:"name"`
	Ops  int           `json:"ops"`
	Took time.Duration `json:"took"`
	Err  string        `json:"error,omitempty"`
}

// Result はストレス実行の結果
type Result struct {
	ScenarioName string        `json:"scenario"`
	Cond         string        `json:"cond"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	Duration     time.Duration `json:"duration"`
	Canceled     bool          `json:"canceled"`
	Workers      int           `json:"workers"`

	Iterations       int   `json:"iterations"`
	HookCalls        int64 `json:"hook_calls"`
	ExpectedFailures int   `json:"expected_failures"`
	ObservedFailures int   `json:"observed_failures"`
	Mismatches       int   `json:"mismatches"`
	Restarts         int   `json:"restarts"`
	PingPongRounds   int   `json:"ping_pong_rounds"`

	Phases  []Phase          `json:"phases"`
	Metrics metrics.Snapshot `json:"metrics"`
}

// Passed は全フェーズが不整合なく完了したかを返す
func (r *Result) Passed() bool {
	failed := lo.Filter(r.Phases, func(p Phase, _ int) bool { return p.Err != "" })
	return len(failed) == 0 && r.Mismatches == 0 && r.HookCalls == int64(r.Iterations)
}

// TotalOps は全フェーズの操作数の合計を返す
func (r *Result) TotalOps() int {
	return lo.SumBy(r.Phases, func(p Phase) int { return p.Ops })
}

// Engine はストレス実行エンジン
type Engine struct {
	config Config

	mu      sync.RWMutex
	tel     *telemetry.Telemetry
	running bool
	worker  *worker.Worker
}

// New は新しい Engine を作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
		tel:    telemetry.New(),
	}
}

// SetTelemetry は報告先の Telemetry を設定する
func (e *Engine) SetTelemetry(t *telemetry.Telemetry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t != nil {
		e.tel = t
	}
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はストレスシナリオを実行する
// ctx がキャンセルされると途中で打ち切り、その時点までの結果を返す。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	tel := e.tel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.worker = nil
		e.mu.Unlock()
	}()

	logger.Info(engineID, "=== Stress '%s' started (%d iterations, %s cond) ===",
		e.config.Name, e.config.Iterations, e.config.CondName())
	tel.Publish(events.NewStressStartedEvent(e.config.Name, e.config.Iterations))

	result := &Result{
		ScenarioName: e.config.Name,
		Cond:         e.config.CondName(),
		Workers:      max(e.config.Workers, 1),
		StartTime:    time.Now(),
	}

	err := e.runCycles(ctx, tel, result)
	if err == nil && e.config.PingPongRounds > 0 {
		err = e.runPingPong(ctx, result)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Metrics = tel.Metrics.Snapshot()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		result.Canceled = true
		err = nil
	}
	tel.Publish(events.NewStressCompletedEvent(e.config.Name, result.Iterations, result.Duration, err))

	if err != nil {
		logger.Error(engineID, "Stress '%s' aborted: %v", e.config.Name, err)
		return nil, err
	}
	logger.Info(engineID, "=== Stress '%s' completed in %v ===", e.config.Name, result.Duration.Round(time.Millisecond))
	return result, nil
}

func (e *Engine) workerOptions(id string, tel *telemetry.Telemetry) []worker.Option {
	opts := []worker.Option{
		worker.WithID(id),
		worker.WithTelemetry(tel),
	}
	if e.config.Emulated {
		opts = append(opts, worker.WithEmulatedCond())
	}
	if e.config.LockOSThread {
		opts = append(opts, worker.WithLockOSThread())
	}
	return opts
}

func (e *Engine) shouldFail(i int) bool {
	return e.config.FailEvery > 0 && (i+1)%e.config.FailEvery == 0
}

type cycleStats struct {
	iterations int
	calls      int64
	expected   int
	observed   int
	mismatches int
	restarts   int
}

// runCycles は Workers 個のワーカーを並行に動かし、結果を集計する
// 各ワーカーはそれぞれ専用の制御ゴルーチンを持つ。
func (e *Engine) runCycles(ctx context.Context, tel *telemetry.Telemetry, result *Result) error {
	start := time.Now()
	phase := Phase{Name: "launch-sync"}
	defer func() {
		phase.Took = time.Since(start)
		result.Phases = append(result.Phases, phase)
	}()

	stats := make([]cycleStats, max(e.config.Workers, 1))
	g, gctx := errgroup.WithContext(ctx)
	for idx := range stats {
		g.Go(func() error {
			return e.cycleWorker(gctx, tel, idx, &stats[idx])
		})
	}
	err := g.Wait()

	result.Iterations = lo.SumBy(stats, func(s cycleStats) int { return s.iterations })
	result.HookCalls = lo.SumBy(stats, func(s cycleStats) int64 { return s.calls })
	result.ExpectedFailures = lo.SumBy(stats, func(s cycleStats) int { return s.expected })
	result.ObservedFailures = lo.SumBy(stats, func(s cycleStats) int { return s.observed })
	result.Mismatches = lo.SumBy(stats, func(s cycleStats) int { return s.mismatches })
	result.Restarts = lo.SumBy(stats, func(s cycleStats) int { return s.restarts })
	phase.Ops = result.Iterations

	if result.HookCalls != int64(result.Iterations) {
		logger.Warn(engineID, "Hook ran %d times for %d iterations", result.HookCalls, result.Iterations)
	}
	if err != nil {
		phase.Err = err.Error()
	}
	return err
}

// cycleWorker は 1 つのワーカーで Launch/Sync を繰り返し、フックの呼び出し回数と Sync の結果を検証する
func (e *Engine) cycleWorker(ctx context.Context, tel *telemetry.Telemetry, idx int, st *cycleStats) error {
	id := fmt.Sprintf("%s-%s-%d", engineID, e.config.Name, idx)
	w := worker.New(e.workerOptions(id, tel)...)
	if !w.Reset() {
		return ErrResetFailed
	}
	defer w.End()

	if idx == 0 {
		e.mu.Lock()
		e.worker = w
		e.mu.Unlock()
	}

	var calls atomic.Int64
	defer func() { st.calls = calls.Load() }()

	delay := e.config.JobDelay
	hook := func(want, _ any) bool {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return want.(bool)
	}

	for i := range e.config.Iterations {
		if err := ctx.Err(); err != nil {
			return err
		}

		want := !e.shouldFail(i)
		if !want {
			st.expected++
		}
		if !w.Launch(hook, want, i) {
			return fmt.Errorf("%s: launch %d dropped", id, i)
		}
		got := w.Sync()
		if got != want {
			st.mismatches++
			logger.Warn(id, "Iteration %d: sync returned %v, want %v", i, got, want)
		}
		if !got {
			st.observed++
			// clear the sticky error for the next iteration
			if !w.Reset() {
				return ErrResetFailed
			}
		}

		if e.config.ResetEvery > 0 && (i+1)%e.config.ResetEvery == 0 {
			w.End()
			if !w.Reset() {
				return ErrResetFailed
			}
			st.restarts++
		}
		st.iterations++
	}
	return nil
}

type contextWaiter interface {
	WaitContext(ctx context.Context) error
}

// runPingPong は 2 つのゴルーチンで条件変数を交互に受け渡す
// 待機側は常に 1 つだけになる。
func (e *Engine) runPingPong(ctx context.Context, result *Result) error {
	start := time.Now()
	phase := Phase{Name: "ping-pong"}
	defer func() {
		phase.Took = time.Since(start)
		result.Phases = append(result.Phases, phase)
	}()

	factory := worker.NativeCond
	if e.config.Emulated {
		factory = worker.EmulatedCond
	}

	var mu sync.Mutex
	cond, err := factory(&mu)
	if err != nil {
		phase.Err = err.Error()
		return fmt.Errorf("create condition variable: %w", err)
	}

	rounds := e.config.PingPongRounds
	turn := 0
	stopped := false
	var completed atomic.Int64

	// the emulated cond can abandon a Wait when ctx is canceled
	wait := func() error {
		cond.Wait()
		return nil
	}
	if cw, ok := cond.(contextWaiter); ok {
		wait = func() error { return cw.WaitContext(ctx) }
	}

	player := func(me int) func() error {
		return func() error {
			for range rounds {
				mu.Lock()
				var werr error
				for turn != me && !stopped && werr == nil {
					werr = wait()
				}
				if stopped {
					mu.Unlock()
					return nil
				}
				if err := cmp.Or(werr, ctx.Err()); err != nil {
					stopped = true
					cond.Signal()
					mu.Unlock()
					return err
				}
				turn = 1 - me
				completed.Add(1)
				cond.Signal()
				mu.Unlock()
			}
			return nil
		}
	}

	var g errgroup.Group
	g.Go(player(0))
	g.Go(player(1))
	err = g.Wait()

	result.PingPongRounds = int(completed.Load() / 2)
	phase.Ops = int(completed.Load())
	if err != nil {
		phase.Err = err.Error()
	}
	return err
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// WorkerStatus は実行中ワーカーの状態を返す（未実行なら NotOK）
func (e *Engine) WorkerStatus() worker.Status {
	e.mu.RLock()
	w := e.worker
	e.mu.RUnlock()
	if w == nil {
		return worker.NotOK
	}
	return w.Status()
}

// Metrics は報告先のメトリクスのスナップショットを返す
func (e *Engine) Metrics() metrics.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tel.Metrics.Snapshot()
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	verdict := "PASS"
	if !r.Passed() {
		verdict = "FAIL"
	}
	if r.Canceled {
		verdict += " (canceled)"
	}

	report := fmt.Sprintf(`
================================================================================
                         STRESS REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Condition Var:  %s
  Workers:        %d
  Verdict:        %s

LAUNCH / SYNC
-------------
  Iterations:         %d
  Hook Calls:         %d
  Expected Failures:  %d
  Observed Failures:  %d
  Mismatches:         %d
  Restarts:           %d
  Avg Exec:           %v
  P99 Exec:           %v
  Avg Sync Wait:      %v

CONDITION VARIABLE
------------------
  Ping-Pong Rounds:   %d

PHASES (%d ops total)
------
`,
		r.ScenarioName,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Cond,
		r.Workers,
		verdict,
		r.Iterations,
		r.HookCalls,
		r.ExpectedFailures,
		r.ObservedFailures,
		r.Mismatches,
		r.Restarts,
		r.Metrics.AverageExec.Round(time.Microsecond),
		r.Metrics.P99Exec.Round(time.Microsecond),
		r.Metrics.AverageSyncWait.Round(time.Microsecond),
		r.PingPongRounds,
		r.TotalOps(),
	)

	for _, p := range r.Phases {
		line := fmt.Sprintf("  %-14s %8d ops  %v", p.Name+":", p.Ops, p.Took.Round(time.Millisecond))
		if p.Err != "" {
			line += "  error: " + p.Err
		}
		report += line + "\n"
	}

	report += "\n================================================================================"

	return report
}
