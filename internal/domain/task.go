package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

const (
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 120
)

// Task is one unit of work carried on a priority stream. WorkerID and
// RetryCount belong to the delivery machinery, not to task logic.
type Task struct {
	ID             string         `json:"task_id"`
	Type           string         `json:"type"`
	Priority       Priority       `json:"priority"`
	Payload        map[string]any `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
	WorkerID       string         `json:"worker_id,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

func (t Task) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// StreamValues encodes the task field-by-field so the stream itself stays
// inspectable and trimmable, instead of carrying one opaque blob.
func (t Task) StreamValues() (map[string]any, error) {
	payload := t.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for task %s: %w", t.ID, err)
	}
	return map[string]any{
		"task_id":     t.ID,
		"type":        t.Type,
		"priority":    string(t.Priority),
		"payload":     string(b),
		"created_at":  formatEpoch(t.CreatedAt),
		"worker_id":   t.WorkerID,
		"retry_count": strconv.Itoa(t.RetryCount),
		"max_retries": strconv.Itoa(t.MaxRetries),
		"timeout":     strconv.Itoa(t.TimeoutSeconds),
	}, nil
}

func TaskFromStreamValues(values map[string]any) (Task, error) {
	t := Task{
		ID:       stringValue(values, "task_id"),
		Type:     stringValue(values, "type"),
		Priority: Priority(stringValue(values, "priority")),
		WorkerID: stringValue(values, "worker_id"),
	}
	if t.ID == "" {
		return Task{}, fmt.Errorf("stream record has no task_id")
	}
	if raw := stringValue(values, "payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &t.Payload); err != nil {
			return Task{}, fmt.Errorf("decode payload for task %s: %w", t.ID, err)
		}
	}
	t.CreatedAt = parseEpoch(stringValue(values, "created_at"))
	t.RetryCount = intValue(values, "retry_count")
	t.MaxRetries = intValue(values, "max_retries")
	t.TimeoutSeconds = intValue(values, "timeout")
	return t, nil
}

// DeadLetter is a task that exhausted its retry budget, plus the error that
// terminated it. Dead-letter records are append-only.
type DeadLetter struct {
	Task
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func (d DeadLetter) StreamValues() (map[string]any, error) {
	values, err := d.Task.StreamValues()
	if err != nil {
		return nil, err
	}
	values["error"] = d.Error
	values["failed_at"] = formatEpoch(d.FailedAt)
	return values, nil
}

func DeadLetterFromStreamValues(values map[string]any) (DeadLetter, error) {
	t, err := TaskFromStreamValues(values)
	if err != nil {
		return DeadLetter{}, err
	}
	return DeadLetter{
		Task:     t,
		Error:    stringValue(values, "error"),
		FailedAt: parseEpoch(stringValue(values, "failed_at")),
	}, nil
}

// Checkpoint is one progress snapshot keyed by the execution (task or saga)
// that owns it.
type Checkpoint struct {
	ScopeID   string         `json:"scope_id"`
	Step      string         `json:"step"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// QueueStats is read-only derived state, not authoritative.
type QueueStats struct {
	HighDepth   int64  `json:"high_depth"`
	LowDepth    int64  `json:"low_depth"`
	HighPending int64  `json:"high_pending"`
	LowPending  int64  `json:"low_pending"`
	Added       uint64 `json:"tasks_added"`
	Processed   uint64 `json:"tasks_processed"`
	Failed      uint64 `json:"tasks_failed"`
	Recovered   uint64 `json:"tasks_recovered"`
}

// Stream values come back as strings regardless of how they were written.
func stringValue(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func intValue(values map[string]any, key string) int {
	n, _ := strconv.Atoi(stringValue(values, key))
	return n
}

func formatEpoch(ts time.Time) string {
	if ts.IsZero() {
		return "0"
	}
	return strconv.FormatFloat(float64(ts.UnixMicro())/1e6, 'f', 6, 64)
}

func parseEpoch(s string) time.Time {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f == 0 {
		return time.Time{}
	}
	return time.UnixMicro(int64(f * 1e6))
}
