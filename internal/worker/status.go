package worker

// Status はワーカーの状態
// NotOK < OK < Work の全順序を持つ。
type Status int

const (
	// NotOK はバックグラウンドゴルーチンが存在しない状態
	NotOK Status = iota
	// OK はゴルーチンが条件変数で待機している状態
	OK
	// Work はフックを実行中、または実行直前の状態
	Work
)

func (s Status) String() string {
	switch s {
	case NotOK:
		return "not_ok"
	case OK:
		return "ok"
	case Work:
		return "work"
	default:
		return "unknown"
	}
}

// Started は Reset 済み（OK 以上）かを返す
func (s Status) Started() bool {
	return s >= OK
}

// Busy はジョブ実行中（OK より上）かを返す
func (s Status) Busy() bool {
	return s > OK
}

// CanTransition は s から to への遷移が許可されているかを返す
func (s Status) CanTransition(to Status) bool {
	switch s {
	case NotOK:
		return to == OK
	case OK:
		return to == Work || to == NotOK
	case Work:
		return to == OK
	default:
		return false
	}
}
