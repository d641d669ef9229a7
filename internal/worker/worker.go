package worker

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"handoff/internal/events"
	"handoff/internal/logger"
	"handoff/internal/metrics"
	"handoff/internal/semcond"
	"handoff/internal/telemetry"
)

// Hook はワーカーが実行するジョブ
// false を返すとジョブ失敗として扱われる。
type Hook func(data1, data2 any) bool

// Cond はワーカーが使う条件変数
// *sync.Cond と *semcond.Cond のどちらも満たす。
type Cond interface {
	Wait()
	Signal()
}

// CondFactory は l に束縛された条件変数を作成する
type CondFactory func(l sync.Locker) (Cond, error)

// NativeCond は sync.Cond を使う CondFactory
func NativeCond(l sync.Locker) (Cond, error) {
	return sync.NewCond(l), nil
}

// EmulatedCond はセマフォとイベントで構成した semcond.Cond を使う CondFactory
func EmulatedCond(l sync.Locker) (Cond, error) {
	c, err := semcond.New(l)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type job struct {
	hook  Hook
	data1 any
	data2 any
}

type options struct {
	condFactory  CondFactory
	lockOSThread bool
	id           string
	tel          *telemetry.Telemetry
	log          *logger.Logger
}

// Option はワーカーの設定を変更する
type Option func(*options)

// WithCondFactory は条件変数の生成方法を指定する
func WithCondFactory(f CondFactory) Option {
	return func(o *options) {
		o.condFactory = f
	}
}

// WithEmulatedCond はエミュレートした条件変数を使う
func WithEmulatedCond() Option {
	return WithCondFactory(EmulatedCond)
}

// WithLockOSThread はバックグラウンドゴルーチンを OS スレッドに固定する
func WithLockOSThread() Option {
	return func(o *options) {
		o.lockOSThread = true
	}
}

// WithID はログやイベントに使う ID を指定する
func WithID(id string) Option {
	return func(o *options) {
		o.id = id
	}
}

// WithTelemetry はプロセス共有のものの代わりに t へ報告する
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(o *options) {
		o.tel = t
	}
}

// WithLogger はロガーを指定する
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// Worker は 1 つのバックグラウンドゴルーチンへジョブを受け渡す
//
// 制御側の操作（Reset, Launch, Sync, Execute, End）は単一のゴルーチンから呼ぶこと。
// ゼロ値は sync.Cond を使う NotOK のワーカーとして使用できる。
type Worker struct {
	opts options

	mu       sync.Mutex
	cond     Cond
	status   Status
	job      job
	hadError bool
	done     chan struct{}

	tel     *telemetry.Telemetry
	ownsTel bool
}

// New は新しいワーカーを作成する
// ゴルーチンやリソースは Reset まで確保しない。
func New(opts ...Option) *Worker {
	w := &Worker{}
	for _, opt := range opts {
		opt(&w.opts)
	}
	if w.opts.id == "" {
		w.opts.id = "worker-" + uuid.NewString()[:8]
	}
	w.Init()
	return w
}

// Init はワーカーを NotOK の初期状態に戻す
// 起動中であれば先に End する。
func (w *Worker) Init() {
	w.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = NotOK
	w.job = job{}
	w.hadError = false
}

// ID はワーカーの ID を返す
func (w *Worker) ID() string {
	return w.opts.id
}

// Status は現在の状態を返す
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// HadError は直近の Reset 以降にジョブが失敗したかを返す
func (w *Worker) HadError() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hadError
}

// Reset はワーカーを起動、または再利用可能な状態に戻す
// NotOK なら条件変数とゴルーチンを確保し、Work なら実行中のジョブを待つ。
// いずれの場合もエラー状態をクリアする。false はリソース確保に失敗した場合のみ。
func (w *Worker) Reset() bool {
	w.mu.Lock()
	st := w.status
	w.mu.Unlock()

	switch {
	case !st.Started():
		if err := w.start(); err != nil {
			w.logger().Error(w.ID(), "Reset failed: %v", err)
			if t := w.opts.tel; t != nil {
				t.Metrics.RecordReset(false)
				t.Publish(events.NewResetFailedEvent(w.ID(), err))
			}
			return false
		}
	case st.Busy():
		w.changeState(OK, nil)
	}

	w.mu.Lock()
	w.hadError = false
	w.mu.Unlock()
	return true
}

func (w *Worker) start() error {
	tel := w.opts.tel
	owns := false
	if tel == nil {
		t, err := telemetry.Acquire()
		if err != nil {
			// telemetry is optional
			w.logger().Warn(w.ID(), "Running without telemetry: %v", err)
		} else {
			tel, owns = t, true
		}
	}

	factory := w.opts.condFactory
	if factory == nil {
		factory = NativeCond
	}
	cond, err := factory(&w.mu)
	if err == nil && cond == nil {
		err = fmt.Errorf("condition variable factory returned nil")
	}
	if err != nil {
		if owns {
			_ = telemetry.Release()
		}
		return fmt.Errorf("worker %s: create condition variable: %w", w.ID(), err)
	}

	done := make(chan struct{})

	w.mu.Lock()
	w.cond = cond
	w.done = done
	w.tel, w.ownsTel = tel, owns
	w.setStatus(OK)
	// the goroutine blocks on mu until status is published
	go w.loop(cond, done)
	w.mu.Unlock()

	if tel != nil {
		tel.Metrics.RecordReset(true)
		tel.Publish(events.NewWorkerEvent(events.EventWorkerReset, w.ID(), OK.String()))
	}
	w.logger().Debug(w.ID(), "Background goroutine started")
	return nil
}

// Launch は hook をバックグラウンドゴルーチンで実行させ、完了を待たずに戻る
// 前のジョブが実行中であれば、それが終わるまでブロックする。
// Reset されていないワーカーではジョブを実行せず false を返す。
func (w *Worker) Launch(hook Hook, data1, data2 any) bool {
	return w.launch(&job{hook: hook, data1: data1, data2: data2})
}

func (w *Worker) launch(next *job) bool {
	if !w.Status().Started() {
		w.logger().Warn(w.ID(), "Launch on a worker that was never reset; job dropped")
		if t := w.opts.tel; t != nil {
			t.Metrics.RecordLaunch(true)
			t.Publish(events.NewWorkerEvent(events.EventLaunchDropped, w.ID(), NotOK.String()))
		}
		return false
	}

	if t := w.telemetry(); t != nil {
		t.Metrics.RecordLaunch(false)
		t.Publish(events.NewWorkerEvent(events.EventJobLaunched, w.ID(), Work.String()))
	}
	return w.changeState(Work, next)
}

// SetJob は Execute や Interface.Launch で実行するジョブを設定する
// ジョブが実行中であれば終わるまで待つ。
func (w *Worker) SetJob(hook Hook, data1, data2 any) {
	next := &job{hook: hook, data1: data1, data2: data2}
	if w.changeState(OK, next) {
		return
	}
	w.mu.Lock()
	w.job = *next
	w.mu.Unlock()
}

// Execute は設定済みのジョブを呼び出し側のゴルーチンで実行する
// 結果は次の Sync で報告される。
func (w *Worker) Execute() {
	w.changeState(OK, nil)

	w.mu.Lock()
	j := w.job
	w.mu.Unlock()

	ok := w.execute(j)

	w.mu.Lock()
	if !ok {
		w.hadError = true
	}
	w.mu.Unlock()
}

// Sync は実行中のジョブの完了を待ち、直近の Reset 以降に失敗がなければ true を返す
func (w *Worker) Sync() bool {
	start := time.Now()
	w.changeState(OK, nil)

	w.mu.Lock()
	ok := !w.hadError
	w.mu.Unlock()

	if t := w.telemetry(); t != nil {
		t.Metrics.RecordSync(time.Since(start))
	}
	return ok
}

// End はバックグラウンドゴルーチンを停止して合流し、条件変数を解放する
// 実行中のジョブがあれば完了を待つ。未起動のワーカーでは何もしない。
func (w *Worker) End() {
	if !w.changeState(NotOK, nil) {
		return
	}

	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	<-done

	w.mu.Lock()
	cond := w.cond
	tel, owns := w.tel, w.ownsTel
	w.cond = nil
	w.done = nil
	w.tel, w.ownsTel = nil, false
	w.mu.Unlock()

	if c, ok := cond.(io.Closer); ok {
		if err := c.Close(); err != nil {
			w.logger().Warn(w.ID(), "Closing condition variable: %v", err)
		}
	}

	if tel != nil {
		tel.Metrics.RecordEnd()
		tel.Publish(events.NewWorkerEvent(events.EventWorkerEnded, w.ID(), NotOK.String()))
	}
	if owns {
		if err := telemetry.Release(); err != nil {
			w.logger().Warn(w.ID(), "Releasing telemetry: %v", err)
		}
	}
	w.logger().Debug(w.ID(), "Background goroutine joined")
}

// changeState はゴルーチンが OK に戻るのを待ってから target へ遷移させる
// next が nil でなければ遷移前にジョブを差し替える。未起動なら false を返す。
func (w *Worker) changeState(target Status, next *job) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.status.Started() {
		return false
	}
	for w.status != OK {
		w.cond.Wait()
	}
	if next != nil {
		w.job = *next
	}
	if target != OK {
		w.setStatus(target)
		w.cond.Signal()
	}
	return true
}

// setStatus は mu を保持した状態で呼ぶこと
func (w *Worker) setStatus(to Status) {
	if !w.status.CanTransition(to) {
		w.logger().Error(w.ID(), "Invalid transition %s -> %s", w.status, to)
	}
	w.logger().Debug(w.ID(), "%s -> %s", w.status, to)
	w.status = to
}

func (w *Worker) loop(cond Cond, done chan struct{}) {
	if w.opts.lockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer close(done)

	w.mu.Lock()
	for {
		for w.status == OK {
			cond.Wait()
		}
		if w.status == NotOK {
			cond.Signal()
			w.mu.Unlock()
			return
		}

		j := w.job
		w.mu.Unlock()
		ok := w.execute(j)
		w.mu.Lock()

		if !ok {
			w.hadError = true
		}
		w.setStatus(OK)
		cond.Signal()
	}
}

// execute はフックを呼び出し、成否を返す
// フックが未設定なら成功として扱う。
func (w *Worker) execute(j job) bool {
	if j.hook == nil {
		return true
	}

	start := time.Now()
	ok := j.hook(j.data1, j.data2)
	took := time.Since(start)

	t := w.telemetry()
	if t != nil {
		t.Metrics.RecordJob(ok, took)
	}
	if !ok {
		w.logger().Warn(w.ID(), "Job failed after %v", took)
		if t != nil {
			t.Publish(events.NewJobFailedEvent(w.ID(), took))
		}
	}
	return ok
}

func (w *Worker) telemetry() *telemetry.Telemetry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tel != nil {
		return w.tel
	}
	return w.opts.tel
}

func (w *Worker) logger() *logger.Logger {
	if w.opts.log != nil {
		return w.opts.log
	}
	return logger.Default
}

// Metrics は報告先のメトリクスを返す（未接続なら nil）
func (w *Worker) Metrics() *metrics.Metrics {
	if t := w.telemetry(); t != nil {
		return t.Metrics
	}
	return nil
}
