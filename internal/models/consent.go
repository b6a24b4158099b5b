package models

import "time"

// ConsentRecord holds the three-flag acknowledgment required before any
// processing or interaction. Immutable once fully granted; it only goes away
// with the session.
type ConsentRecord struct {
	SessionID       string    `json:"session_id"`
	Terms           bool      `json:"terms"`
	DataProcessing  bool      `json:"data_processing"`
	EmotionalImpact bool      `json:"emotional_impact"`
	ClientMeta      string    `json:"client_meta,omitempty"`
	GrantedAt       time.Time `json:"granted_at"`
}

// Complete reports whether all three flags were granted.
func (c *ConsentRecord) Complete() bool {
	return c != nil && c.Terms && c.DataProcessing && c.EmotionalImpact
}
