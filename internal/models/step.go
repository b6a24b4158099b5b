package models

import "time"

// StepName identifies one of the four independent processing steps.
type StepName string

const (
	StepPreprocessPhoto      StepName = "preprocess_photo"
	StepCloneVoice           StepName = "clone_voice"
	StepProcessText          StepName = "process_text"
	StepFineTuneConversation StepName = "fine_tune_conversation"
)

// AllSteps lists every processing step in canonical order. Order matters only
// for display; steps may execute in any order.
func AllSteps() []StepName {
	return []StepName{StepPreprocessPhoto, StepCloneVoice, StepProcessText, StepFineTuneConversation}
}

// ValidStep reports whether name is a known processing step.
func ValidStep(name string) bool {
	switch StepName(name) {
	case StepPreprocessPhoto, StepCloneVoice, StepProcessText, StepFineTuneConversation:
		return true
	}
	return false
}

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepError      StepStatus = "error"
)

// ProcessingStep tracks one step's status for a session. A completed step is
// never reset; re-running it returns the cached result.
type ProcessingStep struct {
	SessionID string     `json:"session_id"`
	Name      StepName   `json:"name"`
	Status    StepStatus `json:"status"`
	// Result is a compact JSON summary, never the raw provider payload.
	Result    string    `json:"result,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
