package shared

import (
	"errors"
	"fmt"
	"sync"

	"handoff/internal/logger"
)

var (
	// ErrNoOpener は open 関数なしで Acquire された場合に返される
	ErrNoOpener = errors.New("shared: no opener configured")
	// ErrUnbalancedRelease は Acquire より多く Release された場合に返される
	ErrUnbalancedRelease = errors.New("shared: release without matching acquire")
)

// State はハンドルの初期化状態
type State int

const (
	StateIdle State = iota
	StateOpen
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lazy は参照カウント付きで遅延初期化されるプロセス共有ハンドル
type Lazy[T any] struct {
	name    string
	openFn  func() (T, error)
	closeFn func(T)

	mu    sync.Mutex
	refs  int
	val   T
	state State
	err   error
}

// NewLazy は新しい Lazy を作成する
// closeFn は nil でもよい。
func NewLazy[T any](name string, openFn func() (T, error), closeFn func(T)) *Lazy[T] {
	return &Lazy[T]{
		name:    name,
		openFn:  openFn,
		closeFn: closeFn,
	}
}

// Acquire は参照を 1 つ取得し、値を返す
// 参照が 0 から 1 になるとき値を開く。開けなかった場合の失敗は以後も保持され、
// 同じエラーが返り続ける。失敗時には参照を取得しない。
func (l *Lazy[T]) Acquire() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var zero T
	switch l.state {
	case StateFailed:
		return zero, l.err
	case StateOpen:
		l.refs++
		return l.val, nil
	}

	if l.openFn == nil {
		l.state = StateFailed
		l.err = ErrNoOpener
		return zero, l.err
	}

	val, err := l.openFn()
	if err != nil {
		l.state = StateFailed
		l.err = fmt.Errorf("shared %s: open failed: %w", l.name, err)
		logger.Warn("", "Couldn't open shared %s: %v", l.name, err)
		return zero, l.err
	}

	l.val = val
	l.state = StateOpen
	l.refs = 1
	logger.Debug("", "Opened shared %s", l.name)
	return val, nil
}

// Release は参照を 1 つ解放する
// 最後の参照が解放されると値を閉じ、次の Acquire で開き直す。
func (l *Lazy[T]) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateOpen || l.refs == 0 {
		return ErrUnbalancedRelease
	}

	l.refs--
	if l.refs > 0 {
		return nil
	}

	if l.closeFn != nil {
		l.closeFn(l.val)
	}
	var zero T
	l.val = zero
	l.state = StateIdle
	logger.Debug("", "Closed shared %s", l.name)
	return nil
}

// Refs は現在の参照数を返す
func (l *Lazy[T]) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// State は現在の状態を返す
func (l *Lazy[T]) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}
