package semcond

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrSemaphoreOverflow は上限を超えて Post された場合に返される
var ErrSemaphoreOverflow = errors.New("semcond: semaphore released above its maximum count")

// Semaphore は初期値 0、上限 limit のカウンティングセマフォ
//
// カウントと待機者数は mu の下でだけ変化する。ブロック中の待機者がいれば
// Post はカウントを増やさず、handoff を通じてその待機者に直接 1 つ渡す。
// そのため上限の判定と受け渡しは常に 1 つの操作になる。
type Semaphore struct {
	mu      sync.Mutex
	count   int64
	waiters int64
	limit   int64

	// 生成時に全容量を確保済み。Release 1 回が待機者 1 人の起床に対応する。
	handoff *semaphore.Weighted
}

// NewSemaphore は新しいセマフォを作成する
func NewSemaphore(limit int64) (*Semaphore, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("semcond: invalid semaphore maximum %d", limit)
	}
	h := semaphore.NewWeighted(math.MaxInt64)
	if !h.TryAcquire(math.MaxInt64) {
		return nil, fmt.Errorf("semcond: failed to drain new semaphore")
	}
	return &Semaphore{limit: limit, handoff: h}, nil
}

// Post はカウントを 1 増やす（待機者がいればその 1 人を起こす）
func (s *Semaphore) Post() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiters > 0 {
		s.waiters--
		s.handoff.Release(1)
		return nil
	}
	if s.count >= s.limit {
		return ErrSemaphoreOverflow
	}
	s.count++
	return nil
}

// Wait はカウントが正になるまでブロックし、1 減らす
func (s *Semaphore) Wait() {
	// Background never cancels, so WaitContext cannot fail.
	_ = s.WaitContext(context.Background())
}

// WaitContext は ctx がキャンセルされるまで Wait する
func (s *Semaphore) WaitContext(ctx context.Context) error {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.waiters++
	s.mu.Unlock()

	err := s.handoff.Acquire(ctx, 1)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a Post may have handed a unit over while ctx was being canceled
	if s.handoff.TryAcquire(1) {
		return nil
	}
	s.waiters--
	return err
}

// TryWait はブロックせずにカウントを 1 減らす
func (s *Semaphore) TryWait() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Count は現在のカウントを返す
func (s *Semaphore) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
