package models

import "time"

// Interaction is one append-only history entry: what the user said, what the
// avatar answered, and which pipeline legs produced it.
type Interaction struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	UserInput string    `json:"user_input"`
	Response  string    `json:"response"`
	VideoPath string    `json:"video_path,omitempty"`
	StepTrace string    `json:"step_trace,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageCounter is the per-session-per-UTC-day interaction count. Quota resets
// happen purely by date key rollover.
type UsageCounter struct {
	SessionID string `json:"session_id"`
	Day       string `json:"day"`
	Count     int    `json:"count"`
}

// Usage is the quota snapshot reported to clients.
type Usage struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}
