package semcond

import "context"

// Event は自動リセットイベント
// Set 1 回につき Wait がちょうど 1 回だけ解放される。
type Event struct {
	ch chan struct{}
}

// NewEvent は非シグナル状態のイベントを作成する
func NewEvent() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Set はイベントをシグナル状態にする（既にシグナル状態なら何もしない）
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait はイベントがシグナル状態になるまでブロックし、非シグナル状態に戻す
func (e *Event) Wait() {
	<-e.ch
}

// WaitContext は ctx がキャンセルされるまで Wait する
func (e *Event) WaitContext(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSet はイベントがシグナル状態かを返す（参考値）
func (e *Event) IsSet() bool {
	return len(e.ch) > 0
}
