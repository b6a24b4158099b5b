package models

import "time"

// SessionState is the lifecycle state of an avatar session. NEW and DELETED
// are not listed: a session row only exists once its files are stored, and
// deletion removes the row, so both read as not found.
type SessionState string

const (
	StateFilesUploaded  SessionState = "FILES_UPLOADED"
	StateConsentPending SessionState = "CONSENT_PENDING"
	StateConsented      SessionState = "CONSENTED"
	StateProcessing     SessionState = "PROCESSING"
	StateReady          SessionState = "READY"
	StateInteracting    SessionState = "INTERACTING"
)

// Session binds one user's uploaded artifacts, consent, processing progress
// and interaction history.
type Session struct {
	ID        string       `json:"id"`
	UserID    int64        `json:"user_id"`
	State     SessionState `json:"state"`
	KeyHandle string       `json:"-"`
	Biography string       `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
