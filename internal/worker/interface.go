package worker

import (
	"errors"
	"sync"
)

// ErrNilInterface は SetInterface に nil が渡された場合に返される
var ErrNilInterface = errors.New("worker: nil interface")

// Interface はワーカー操作の関数テーブル
// ジョブは事前に Worker.SetJob で設定しておく。
type Interface interface {
	Init(w *Worker)
	Reset(w *Worker) bool
	Sync(w *Worker) bool
	Launch(w *Worker) bool
	Execute(w *Worker)
	End(w *Worker)
}

// Threaded はバックグラウンドゴルーチンでジョブを実行する Interface
type Threaded struct{}

func (Threaded) Init(w *Worker)        { w.Init() }
func (Threaded) Reset(w *Worker) bool  { return w.Reset() }
func (Threaded) Sync(w *Worker) bool   { return w.Sync() }
func (Threaded) Launch(w *Worker) bool { return w.launch(nil) }
func (Threaded) Execute(w *Worker)     { w.Execute() }
func (Threaded) End(w *Worker)         { w.End() }

// Inline はゴルーチンを使わず、Launch の時点でジョブを実行する Interface
type Inline struct{}

func (Inline) Init(w *Worker) { w.Init() }

func (Inline) Reset(w *Worker) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hadError = false
	return true
}

func (Inline) Sync(w *Worker) bool { return !w.HadError() }

func (Inline) Launch(w *Worker) bool {
	w.Execute()
	return true
}

func (Inline) Execute(w *Worker) { w.Execute() }
func (Inline) End(w *Worker)     { w.End() }

var (
	ifaceMu sync.RWMutex
	iface   Interface = Threaded{}
)

// SetInterface はプロセス全体で使う Interface を差し替える
func SetInterface(i Interface) error {
	if i == nil {
		return ErrNilInterface
	}
	ifaceMu.Lock()
	defer ifaceMu.Unlock()
	iface = i
	return nil
}

// GetInterface は現在の Interface を返す
func GetInterface() Interface {
	ifaceMu.RLock()
	defer ifaceMu.RUnlock()
	return iface
}
