// Package events provides an event system for worker lifecycle notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventWorkerReset is emitted when a worker's background goroutine comes up
	EventWorkerReset EventType = "worker_reset"
	// EventWorkerResetFailed is emitted when Reset cannot allocate its primitives
	EventWorkerResetFailed EventType = "worker_reset_failed"
	// EventJobLaunched is emitted when a job is handed to the background goroutine
	EventJobLaunched EventType = "job_launched"
	// EventLaunchDropped is emitted when Launch is called on a worker that was never reset
	EventLaunchDropped EventType = "launch_dropped"
	// EventJobFailed is emitted when a hook reports failure
	EventJobFailed EventType = "job_failed"
	// EventWorkerEnded is emitted after the background goroutine has been joined
	EventWorkerEnded EventType = "worker_ended"
	// EventStressStarted is emitted when a stress run begins
	EventStressStarted EventType = "stress_started"
	// EventStressCompleted is emitted when a stress run finishes
	EventStressCompleted EventType = "stress_completed"
)

// Event represents a worker or stress-run event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Status     string `json:"status,omitempty"`
	Duration   string `json:"duration,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
	Scenario   string `json:"scenario,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewWorkerEvent creates an event for a worker lifecycle step
func NewWorkerEvent(eventType EventType, workerID, status string) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data: EventData{
			Status: status,
		},
	}
}

// NewJobFailedEvent creates a job failure event
func NewJobFailedEvent(workerID string, took time.Duration) Event {
	return Event{
		Type:      EventJobFailed,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data: EventData{
			Duration: took.String(),
		},
	}
}

// NewResetFailedEvent creates a reset failure event
func NewResetFailedEvent(workerID string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventWorkerResetFailed,
		Timestamp: time.Now(),
		WorkerID:  workerID,
		Data: EventData{
			Error: errMsg,
		},
	}
}

// NewStressStartedEvent creates a stress start event
func NewStressStartedEvent(scenario string, iterations int) Event {
	return Event{
		Type:      EventStressStarted,
		Timestamp: time.Now(),
		Data: EventData{
			Scenario:   scenario,
			Iterations: iterations,
		},
	}
}

// NewStressCompletedEvent creates a stress completion event
func NewStressCompletedEvent(scenario string, iterations int, took time.Duration, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventStressCompleted,
		Timestamp: time.Now(),
		Data: EventData{
			Scenario:   scenario,
			Iterations: iterations,
			Duration:   took.String(),
			Error:      errMsg,
		},
	}
}
