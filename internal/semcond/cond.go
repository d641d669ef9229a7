package semcond

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

var (
	// ErrNilLocker は New に nil の Locker が渡された場合に返される
	ErrNilLocker = errors.New("semcond: nil locker")
	// ErrClosed は Close 後に Wait/Signal が呼ばれた場合に記録される
	ErrClosed = errors.New("semcond: condition variable closed")
)

// Cond はセマフォ 2 つと自動リセットイベントで構成した条件変数
type Cond struct {
	// L は Wait の間に解放されるロック
	L sync.Locker

	waiting  *Semaphore // 待機者がいることを示す
	received *Semaphore // 待機者が起床を受け取ったことを示す
	wake     *Event     // 起床シグナル本体

	closed atomic.Bool
	err    atomic.Pointer[error]
}

// New は l に束縛された条件変数を作成する
// 下位のプリミティブを 1 つでも作成できなければエラーを返す。
func New(l sync.Locker) (*Cond, error) {
	if l == nil {
		return nil, ErrNilLocker
	}
	waiting, err := NewSemaphore(1)
	if err != nil {
		return nil, err
	}
	received, err := NewSemaphore(1)
	if err != nil {
		return nil, err
	}
	return &Cond{
		L:        l,
		waiting:  waiting,
		received: received,
		wake:     NewEvent(),
	}, nil
}

// Wait は L をアトミックに解放して Signal を待ち、戻る前に L を再取得する
// 呼び出し側は L をロックしていなければならない。
//
// Close 後や、別の goroutine が既に待機中の場合はブロックせずに戻り、Err に
// 記録する。その場合も L を一度手放してから戻るので、述語ループの中で
// 呼んでも他の goroutine が L を取れる。
func (c *Cond) Wait() {
	_ = c.WaitContext(context.Background())
}

// WaitContext は Wait と同じだが、ctx がキャンセルされると L を再取得して
// ctx.Err() を返す。キャンセルと Signal が競合した場合は Signal を優先し nil を返す。
func (c *Cond) WaitContext(ctx context.Context) error {
	if c.closed.Load() {
		c.yield(ErrClosed)
		return ErrClosed
	}
	// announce a consumer so Signal does not drop the wake
	if err := c.waiting.Post(); err != nil {
		c.yield(err)
		return err
	}
	c.L.Unlock()

	err := c.wake.WaitContext(ctx)
	if err != nil && !c.waiting.TryWait() {
		// a Signal already claimed this waiter and is blocked on received
		c.wake.Wait()
		err = nil
	}
	if err == nil {
		// must happen before re-locking: the signaler is blocked on received
		// while it may still hold L
		if perr := c.received.Post(); perr != nil {
			c.record(perr)
		}
	}

	c.L.Lock()
	return err
}

// Signal は待機中の goroutine を最大 1 つ起こす
// 待機者がいなければシグナルは失われる。待機者がいる場合は、その待機者が
// 起床を受け取るまで戻らない。
func (c *Cond) Signal() {
	if c.closed.Load() {
		c.record(ErrClosed)
		return
	}
	if !c.waiting.TryWait() {
		return
	}
	c.wake.Set()
	c.received.Wait()
}

// Waiting は現在 Wait 中の goroutine がいるかを返す（参考値）
func (c *Cond) Waiting() bool {
	return c.waiting.Count() > 0
}

// Err は最初に記録されたプロトコルエラーを返す
func (c *Cond) Err() error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Close は条件変数を使用不可にする
// 待機者がいない状態で呼ぶこと。
func (c *Cond) Close() error {
	c.closed.Store(true)
	return nil
}

// yield はエラーを記録し、L を一度手放して他の goroutine に実行機会を与える
func (c *Cond) yield(err error) {
	c.record(err)
	c.L.Unlock()
	runtime.Gosched()
	c.L.Lock()
}

func (c *Cond) record(err error) {
	c.err.CompareAndSwap(nil, &err)
}
