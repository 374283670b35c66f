package models

import "time"

// LatencyTest represents a latency test result
type LatencyTest struct {
	ID           int64     `json:"id"`
	ProfileID    int64     `json:"profile_id"`
	LatencyMS    *int      `json:"latency_ms,omitempty"` // NULL if failed
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	TestStrategy string    `json:"test_strategy"` // tcp
	TestedAt     time.Time `json:"tested_at"`
}
