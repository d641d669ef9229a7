package stress

import (
	"slices"
	"time"

	"github.com/samber/lo"
)

// QuickScenario は動作確認用の短いシナリオを返す
func QuickScenario() Config {
	return Config{
		Name:           "quick",
		Description:    "Quick launch/sync check with the native condition variable",
		Iterations:     1000,
		PingPongRounds: 1000,
	}
}

// SoakScenario は長時間の往復で取りこぼしやデッドロックを探すシナリオを返す
func SoakScenario() Config {
	return Config{
		Name:           "soak",
		Description:    "10k launch/sync cycles with periodic End/Reset",
		Iterations:     10000,
		ResetEvery:     1000,
		PingPongRounds: 10000,
	}
}

// EmulatedScenario はエミュレートした条件変数で往復するシナリオを返す
func EmulatedScenario() Config {
	return Config{
		Name:           "emulated",
		Description:    "10k launch/sync cycles on the semaphore-based condition variable",
		Iterations:     10000,
		Emulated:       true,
		PingPongRounds: 10000,
	}
}

// FailureScenario は一定間隔でフックを失敗させるシナリオを返す
// 失敗が Sync で報告され、Reset で消えることを確認する。
func FailureScenario() Config {
	return Config{
		Name:        "failure",
		Description: "Hook fails every 7th job; errors must surface on Sync and clear on Reset",
		Iterations:  2000,
		FailEvery:   7,
		ResetEvery:  500,
	}
}

// PinnedScenario はワーカーを OS スレッドに固定するシナリオを返す
func PinnedScenario() Config {
	return Config{
		Name:           "pinned",
		Description:    "Worker locked to an OS thread with short jobs",
		Iterations:     500,
		JobDelay:       100 * time.Microsecond,
		Emulated:       true,
		LockOSThread:   true,
		PingPongRounds: 1000,
	}
}

// FleetScenario は独立したワーカーを並行に動かすシナリオを返す
// 各ワーカーは 1 つの制御ゴルーチンだけから操作される。
func FleetScenario() Config {
	return Config{
		Name:           "fleet",
		Description:    "4 independent workers, each driven by its own controller",
		Workers:        4,
		Iterations:     2500,
		FailEvery:      11,
		ResetEvery:     1000,
		PingPongRounds: 1000,
	}
}

var presets = map[string]func() Config{
	"quick":    QuickScenario,
	"soak":     SoakScenario,
	"emulated": EmulatedScenario,
	"failure":  FailureScenario,
	"pinned":   PinnedScenario,
	"fleet":    FleetScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := lo.Keys(presets)
	slices.Sort(names)
	return names
}
