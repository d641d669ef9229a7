package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
	"golang.org/x/sync/errgroup"

	"handoff/internal/events"
	"handoff/internal/logger"
	"handoff/internal/stress"
	"handoff/internal/telemetry"
)

const serverID = "api"

// Server は API サーバー
type Server struct {
	addr string
	tel  *telemetry.Telemetry

	mu         sync.RWMutex
	baseCtx    context.Context
	running    bool
	engine     *stress.Engine
	config     stress.Config
	cancel     context.CancelFunc
	lastResult *stress.Result
	lastErr    error
	wsClients  map[*websocket.Conn]bool
}

// NewServer は新しい API サーバーを作成する
// プロセス共有の Telemetry を取得するので、不要になったら Close を呼ぶこと。
func NewServer(addr string) (*Server, error) {
	tel, err := telemetry.Acquire()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire telemetry: %w", err)
	}
	return &Server{
		addr:      addr,
		tel:       tel,
		baseCtx:   context.Background(),
		wsClients: make(map[*websocket.Conn]bool),
	}, nil
}

// Close は実行中のストレスを止め、Telemetry を解放する
func (s *Server) Close() error {
	s.stopRun()
	return telemetry.Release()
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/metrics", s.handleMetrics)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/result", s.handleResult)
	mux.HandleFunc("/api/stress/start", s.handleStressStart)
	mux.HandleFunc("/api/stress/stop", s.handleStressStop)

	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx がキャンセルされるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	// イベントとステータスの配信
	g.Go(func() error {
		s.broadcastLoop(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.stopRun()
		s.closeClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logger.Info(serverID, "API Server starting on http://%s", s.addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", s.addr, err)
		}
		return nil
	})

	return g.Wait()
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running      bool   `json:"running"`
	ScenarioName string `json:"scenario_name,omitempty"`
	Cond         string `json:"cond,omitempty"`
	Iterations   int    `json:"iterations,omitempty"`
	WorkerStatus string `json:"worker_status"`
	LastPassed   *bool  `json:"last_passed,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

func (s *Server) status() StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{
		Running:      s.running,
		WorkerStatus: "not_ok",
	}
	if s.config.Name != "" {
		resp.ScenarioName = s.config.Name
		resp.Cond = s.config.CondName()
		resp.Iterations = s.config.Iterations
	}
	if s.engine != nil {
		resp.WorkerStatus = s.engine.WorkerStatus().String()
	}
	if s.lastResult != nil {
		passed := s.lastResult.Passed()
		resp.LastPassed = &passed
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status())
}

// MetricsResponse はメトリクスレスポンス
type MetricsResponse struct {
	TotalJobs        uint64  `json:"total_jobs"`
	FailedJobs       uint64  `json:"failed_jobs"`
	Launches         uint64  `json:"launches"`
	DroppedLaunches  uint64  `json:"dropped_launches"`
	Resets           uint64  `json:"resets"`
	Ends             uint64  `json:"ends"`
	JobsPerSecond    float64 `json:"jobs_per_second"`
	AvgExecMs        float64 `json:"avg_exec_ms"`
	P99ExecMs        float64 `json:"p99_exec_ms"`
	AvgSyncWaitMs    float64 `json:"avg_sync_wait_ms"`
	FailureRate      float64 `json:"failure_rate"`
	TelemetryHolders int     `json:"telemetry_holders"`
	WebSocketClients int     `json:"websocket_clients"`
	EventSubscribers int     `json:"event_subscribers"`
	DroppedEvents    uint64  `json:"dropped_events"`
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := s.tel.Metrics.Snapshot()
	resp := MetricsResponse{
		TotalJobs:        snap.TotalJobs,
		FailedJobs:       snap.FailedJobs,
		Launches:         snap.Launches,
		DroppedLaunches:  snap.DroppedLaunches,
		Resets:           snap.Resets,
		Ends:             snap.Ends,
		JobsPerSecond:    snap.JobsPerSecond,
		AvgExecMs:        ms(snap.AverageExec),
		P99ExecMs:        ms(snap.P99Exec),
		AvgSyncWaitMs:    ms(snap.AverageSyncWait),
		FailureRate:      snap.FailureRate,
		TelemetryHolders: telemetry.Refs(),
		WebSocketClients: s.clientCount(),
		EventSubscribers: s.tel.Bus.SubscriberCount(),
		DroppedEvents:    s.tel.Bus.Dropped(),
	}

	s.writeJSON(w, resp)
}

// StressRequest はストレス開始リクエスト
type StressRequest struct {
	Preset     string `json:"preset"`
	Workers    int    `json:"workers,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	FailEvery  int    `json:"fail_every,omitempty"`
	Emulated   *bool  `json:"emulated,omitempty"`
}

func (s *Server) handleStressStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	config := stress.QuickScenario()
	if req.Preset != "" {
		preset, ok := stress.GetPreset(req.Preset)
		if !ok {
			http.Error(w, "Unknown preset: "+req.Preset, http.StatusBadRequest)
			return
		}
		config = preset
	}
	if req.Workers > 0 {
		config.Workers = req.Workers
	}
	if req.Iterations > 0 {
		config.Iterations = req.Iterations
	}
	if req.FailEvery > 0 {
		config.FailEvery = req.FailEvery
	}
	if req.Emulated != nil {
		config.Emulated = *req.Emulated
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "Stress run already in progress", http.StatusConflict)
		return
	}

	engine := stress.New(config)
	engine.SetTelemetry(s.tel)
	ctx, cancel := context.WithCancel(s.baseCtx)

	s.config = config
	s.engine = engine
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	// バックグラウンドで実行
	go func() {
		defer cancel()
		result, err := engine.Run(ctx)

		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.lastResult = result
		s.lastErr = err
		s.mu.Unlock()

		if err != nil {
			logger.Error(serverID, "Stress run failed: %v", err)
		} else {
			logger.Info(serverID, "Stress run completed: %d iterations, passed=%v", result.Iterations, result.Passed())
		}

		s.broadcast(Message{Type: "stress_complete", Result: result})
	}()

	s.writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "started", "scenario": config.Name})
}

func (s *Server) handleStressStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.stopRun() {
		http.Error(w, "No stress run in progress", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, map[string]string{"status": "stop requested"})
}

// stopRun は実行中のストレスをキャンセルする
func (s *Server) stopRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.RLock()
	result := s.lastResult
	s.mu.RUnlock()

	if result == nil {
		http.Error(w, "No completed stress run", http.StatusNotFound)
		return
	}
	s.writeJSON(w, result)
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Workers     int    `json:"workers"`
	Iterations  int    `json:"iterations"`
	Cond        string `json:"cond"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range stress.ListPresets() {
		config, _ := stress.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        name,
			Description: config.Description,
			Workers:     max(config.Workers, 1),
			Iterations:  config.Iterations,
			Cond:        config.CondName(),
		})
	}

	s.writeJSON(w, presets)
}

// Message は WebSocket で配信するメッセージ
type Message struct {
	Type   string          `json:"type"`
	Event  *events.Event   `json:"event,omitempty"`
	Status *StatusResponse `json:"status,omitempty"`
	Result *stress.Result  `json:"result,omitempty"`
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) closeClients() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ws := range s.wsClients {
		_ = ws.Close()
	}
}

func (s *Server) broadcast(msg Message) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	for _, ws := range clients {
		if err := websocket.JSON.Send(ws, msg); err != nil {
			logger.Debug(serverID, "WebSocket send failed: %v", err)
		}
	}
}

// broadcastTypes は WebSocket に流すイベント種別
// job_launched はジョブごとに発生するので配信しない。
var broadcastTypes = []events.EventType{
	events.EventWorkerReset,
	events.EventWorkerResetFailed,
	events.EventLaunchDropped,
	events.EventJobFailed,
	events.EventWorkerEnded,
	events.EventStressStarted,
	events.EventStressCompleted,
}

// broadcastLoop はバスのイベントと実行中のステータスを配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	ch := s.tel.Bus.Subscribe(broadcastTypes...)
	defer s.tel.Bus.Unsubscribe(ch)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.broadcast(Message{Type: "event", Event: &ev})
		case <-ticker.C:
			status := s.status()
			if !status.Running {
				continue
			}
			s.broadcast(Message{Type: "status", Status: &status})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error(serverID, "Failed to encode JSON: %v", err)
	}
}
