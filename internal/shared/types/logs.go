package types

import "time"

// LogEntry is one backend log record as delivered by the `logs` operation.
// The shell treats it as an atomic unit and never interprets its fields.
type LogEntry struct {
	Time      time.Time `json:"time"`
	Level     string    `json:"level"`
	Component string    `json:"component,omitempty"`
	Message   string    `json:"message"`
}
