package telemetry

import (
	"handoff/internal/events"
	"handoff/internal/metrics"
	"handoff/internal/shared"
)

// Telemetry はイベントバスとメトリクスの組
type Telemetry struct {
	Bus     *events.Bus
	Metrics *metrics.Metrics
}

// New は独立した Telemetry を作成する
func New() *Telemetry {
	return &Telemetry{
		Bus:     events.NewBus(),
		Metrics: metrics.New(),
	}
}

// Publish はイベントを発行する（nil 安全）
func (t *Telemetry) Publish(event events.Event) {
	if t == nil || t.Bus == nil {
		return
	}
	t.Bus.Publish(event)
}

// Close はイベントバスを閉じる
func (t *Telemetry) Close() {
	if t == nil || t.Bus == nil {
		return
	}
	t.Bus.Close()
}

var process = shared.NewLazy("telemetry",
	func() (*Telemetry, error) { return New(), nil },
	func(t *Telemetry) { t.Close() },
)

// Acquire はプロセス共有の Telemetry への参照を取得する
// 対応する Release を必ず呼ぶこと。
func Acquire() (*Telemetry, error) {
	return process.Acquire()
}

// Release はプロセス共有の Telemetry への参照を解放する
// 最後の参照が解放されるとイベントバスが閉じられる。
func Release() error {
	return process.Release()
}

// Refs はプロセス共有 Telemetry の参照数を返す
func Refs() int {
	return process.Refs()
}
