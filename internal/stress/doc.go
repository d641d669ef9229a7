// Package stress はワーカーと条件変数のストレス実行機能を提供する。
//
// エンジンは Workers 個のワーカーそれぞれに専用の制御ゴルーチンを割り当て、
// Launch と Sync を繰り返してフックの呼び出し回数と Sync の戻り値が期待どおりかを
// 検証する。続いて 2 つのゴルーチンで条件変数を交互に
// 受け渡し、起床の取りこぼしがないことを確認する。
//
// # プリセットシナリオ
//
// - quick: 短時間の動作確認
// - soak: 10000 回の往復と定期的な End/Reset
// - emulated: セマフォで構成した条件変数での往復
// - failure: 一定間隔のフック失敗と Reset によるクリア
// - pinned: OS スレッドに固定したワーカー
// - fleet: 独立した 4 つのワーカーを並行に実行
//
// # 使用例
//
//	config := stress.SoakScenario()
//	engine := stress.New(config)
//	result, err := engine.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Report())
package stress
