package stress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handoff/internal/events"
	"handoff/internal/telemetry"
	"handoff/internal/worker"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, "default", config.Name)
	assert.Equal(t, 1000, config.Iterations)
	assert.False(t, config.Emulated)
	assert.NoError(t, config.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"workers", func(c *Config) { c.Workers = -1 }},
		{"iterations", func(c *Config) { c.Iterations = -1 }},
		{"fail_every", func(c *Config) { c.FailEvery = -1 }},
		{"reset_every", func(c *Config) { c.ResetEvery = -1 }},
		{"job_delay", func(c *Config) { c.JobDelay = -time.Millisecond }},
		{"ping_pong_rounds", func(c *Config) { c.PingPongRounds = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.name)
		})
	}
}

func TestNewEngine(t *testing.T) {
	engine := New(DefaultConfig())
	require.NotNil(t, engine)
	assert.False(t, engine.IsRunning())
	assert.Equal(t, worker.NotOK, engine.WorkerStatus())
}

func TestEngineRun(t *testing.T) {
	tests := []struct {
		name     string
		emulated bool
	}{
		{"native", false},
		{"emulated", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := QuickScenario()
			config.Emulated = tt.emulated

			result, err := New(config).Run(context.Background())
			require.NoError(t, err)

			assert.True(t, result.Passed(), result.Report())
			assert.Equal(t, config.Iterations, result.Iterations)
			assert.Equal(t, int64(config.Iterations), result.HookCalls)
			assert.Equal(t, config.PingPongRounds, result.PingPongRounds)
			assert.Equal(t, config.Iterations+2*config.PingPongRounds, result.TotalOps())
			assert.Equal(t, uint64(config.Iterations), result.Metrics.TotalJobs)
			assert.Equal(t, config.CondName(), result.Cond)
			assert.Len(t, result.Phases, 2)
		})
	}
}

func TestEngineRunWithFailures(t *testing.T) {
	config := FailureScenario()
	config.Iterations = 70

	result, err := New(config).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, result.ExpectedFailures)
	assert.Equal(t, 10, result.ObservedFailures)
	assert.Zero(t, result.Mismatches)
	assert.True(t, result.Passed())
	assert.Equal(t, uint64(10), result.Metrics.FailedJobs)
}

func TestEngineRunWithRestarts(t *testing.T) {
	config := QuickScenario()
	config.Iterations = 100
	config.ResetEvery = 25
	config.PingPongRounds = 0

	result, err := New(config).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, result.Restarts)
	assert.True(t, result.Passed())
	assert.Len(t, result.Phases, 1)
	assert.Equal(t, uint64(5), result.Metrics.Resets)
	assert.Equal(t, uint64(5), result.Metrics.Ends)
}

func TestEngineRunWithWorkers(t *testing.T) {
	for _, emulated := range []bool{false, true} {
		config := FleetScenario()
		config.Iterations = 110
		config.ResetEvery = 50
		config.PingPongRounds = 0
		config.Emulated = emulated

		tel := telemetry.New()
		engine := New(config)
		engine.SetTelemetry(tel)

		result, err := engine.Run(context.Background())
		require.NoError(t, err)

		workers := config.Workers
		assert.Equal(t, workers, result.Workers)
		assert.Equal(t, workers*110, result.Iterations)
		assert.Equal(t, int64(workers*110), result.HookCalls)
		assert.Equal(t, workers*10, result.ExpectedFailures)
		assert.Equal(t, workers*10, result.ObservedFailures)
		assert.Equal(t, workers*2, result.Restarts)
		assert.Zero(t, result.Mismatches)
		assert.True(t, result.Passed())
		assert.Equal(t, uint64(workers*3), result.Metrics.Ends)
		assert.Equal(t, worker.NotOK, engine.WorkerStatus())
		tel.Close()
	}
}

func TestEngineDoubleRun(t *testing.T) {
	config := QuickScenario()
	config.JobDelay = time.Millisecond
	config.Iterations = 200

	engine := New(config)
	done := make(chan struct{})
	var firstResult *Result
	var firstErr error

	go func() {
		firstResult, firstErr = engine.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, engine.IsRunning, time.Second, time.Millisecond)
	_, err := engine.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	<-done
	require.NoError(t, firstErr)
	assert.NotNil(t, firstResult)
	assert.False(t, engine.IsRunning())
}

func TestEngineContextCancel(t *testing.T) {
	config := SoakScenario()
	config.JobDelay = time.Millisecond

	engine := New(config)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var result *Result
	var err error
	go func() {
		result, err = engine.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Canceled)
	assert.Less(t, result.Iterations, config.Iterations)
	assert.Equal(t, int64(result.Iterations), result.HookCalls)
}

func TestEngineCancelDuringEmulatedPingPong(t *testing.T) {
	config := EmulatedScenario()
	config.Iterations = 0
	config.PingPongRounds = 100_000_000

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result, err := New(config).Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Canceled)
	assert.Less(t, result.PingPongRounds, config.PingPongRounds)
	require.Len(t, result.Phases, 2)
	assert.Equal(t, "ping-pong", result.Phases[1].Name)
	assert.NotEmpty(t, result.Phases[1].Err)
}

func TestEngineInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Iterations = -5
	_, err := New(config).Run(context.Background())
	assert.Error(t, err)
}

func TestEnginePublishesEvents(t *testing.T) {
	tel := telemetry.New()
	ch := tel.Bus.Subscribe()

	config := QuickScenario()
	config.Iterations = 3
	config.PingPongRounds = 0

	engine := New(config)
	engine.SetTelemetry(tel)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	var seen []events.EventType
	for len(ch) > 0 {
		seen = append(seen, (<-ch).Type)
	}
	require.NotEmpty(t, seen)
	assert.Equal(t, events.EventStressStarted, seen[0])
	assert.Equal(t, events.EventStressCompleted, seen[len(seen)-1])
	assert.Contains(t, seen, events.EventWorkerReset)
	assert.Contains(t, seen, events.EventJobLaunched)
	assert.Equal(t, uint64(3), engine.Metrics().TotalJobs)
}

func TestResultReport(t *testing.T) {
	result := &Result{
		ScenarioName:     "test",
		Cond:             "emulated",
		StartTime:        time.Now(),
		EndTime:          time.Now().Add(time.Second),
		Duration:         time.Second,
		Iterations:       1000,
		HookCalls:        1000,
		ExpectedFailures: 10,
		ObservedFailures: 10,
		PingPongRounds:   500,
		Phases: []Phase{
			{Name: "launch-sync", Ops: 1000, Took: 800 * time.Millisecond},
			{Name: "ping-pong", Ops: 1000, Took: 200 * time.Millisecond},
		},
	}

	report := result.Report()
	assert.Contains(t, report, "STRESS REPORT: test")
	assert.Contains(t, report, "emulated")
	assert.Contains(t, report, "PASS")
	assert.Contains(t, report, "2000 ops total")
	assert.Contains(t, report, "ping-pong:")

	result.Mismatches = 1
	assert.Contains(t, result.Report(), "FAIL")
}

func TestPresets(t *testing.T) {
	names := ListPresets()
	assert.Equal(t, []string{"emulated", "failure", "fleet", "pinned", "quick", "soak"}, names)

	for _, name := range names {
		config, ok := GetPreset(name)
		require.True(t, ok, name)
		assert.Equal(t, name, config.Name)
		assert.NoError(t, config.Validate())
	}

	_, ok := GetPreset("nonexistent")
	assert.False(t, ok)
}

func TestPresetShapes(t *testing.T) {
	assert.GreaterOrEqual(t, SoakScenario().Iterations, 10000)
	assert.True(t, EmulatedScenario().Emulated)
	assert.Positive(t, FailureScenario().FailEvery)
	assert.True(t, PinnedScenario().LockOSThread)
	assert.Greater(t, FleetScenario().Workers, 1)
}
