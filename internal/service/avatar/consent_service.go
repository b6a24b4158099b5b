package avatar

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"afterlifego/internal/models"
)

const consentCacheTTL = 12 * time.Hour

func consentCacheKey(sessionID string) string {
	return "consent:" + sessionID
}

// RecordConsent stores the three-flag acknowledgment. All three must be true
// in one request; a granted record is immutable and re-granting is a no-op.
func (s *Service) RecordConsent(ctx context.Context, userID int64, sessionID string,
	terms, dataProcessing, emotionalImpact bool, clientMeta string) (*models.ConsentRecord, error) {

	if _, err := s.getOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if !terms || !dataProcessing || !emotionalImpact {
		return nil, ErrConsentIncomplete
	}

	existing, err := s.consentRecord(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing.Complete() {
		return existing, nil
	}

	rec := &models.ConsentRecord{
		SessionID:       sessionID,
		Terms:           true,
		DataProcessing:  true,
		EmotionalImpact: true,
		ClientMeta:      clientMeta,
		GrantedAt:       now(),
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO consent_records (session_id, terms, data_processing, emotional_impact, client_meta, granted_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.SessionID, rec.Terms, rec.DataProcessing, rec.EmotionalImpact, rec.ClientMeta, rec.GrantedAt)
	if err != nil {
		// primary key collision: a concurrent grant won, treat as granted
		if again, lookupErr := s.consentRecord(ctx, sessionID); lookupErr == nil && again.Complete() {
			return again, nil
		}
		return nil, fmt.Errorf("record consent: %w", err)
	}
	if err := s.setState(ctx, sessionID, models.StateConsented); err != nil {
		return nil, err
	}

	// consent is immutable once granted, so a positive cache entry is safe
	if s.cache != nil {
		if err := s.cache.Set(ctx, consentCacheKey(sessionID), "granted", consentCacheTTL); err != nil {
			log.Printf("[avatar] cache consent for %s: %v", sessionID, err)
		}
	}
	log.Printf("[avatar] consent granted for session %s", sessionID)
	return rec, nil
}

// isConsented reports whether full consent exists, failing closed: any read
// error counts as no consent.
func (s *Service) isConsented(ctx context.Context, sessionID string) (bool, error) {
	if v, err := s.cache.Get(ctx, consentCacheKey(sessionID)); err == nil && v == "granted" {
		return true, nil
	}
	rec, err := s.consentRecord(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return rec.Complete(), nil
}

// requireConsent gates processing and interaction.
func (s *Service) requireConsent(ctx context.Context, sessionID string) error {
	ok, err := s.isConsented(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConsentRequired
	}
	return nil
}

func (s *Service) consentRecord(ctx context.Context, sessionID string) (*models.ConsentRecord, error) {
	var rec models.ConsentRecord
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id, terms, data_processing, emotional_impact, client_meta, granted_at FROM consent_records WHERE session_id = ?",
		sessionID).
		Scan(&rec.SessionID, &rec.Terms, &rec.DataProcessing, &rec.EmotionalImpact, &rec.ClientMeta, &rec.GrantedAt)
	if err == sql.ErrNoRows {
		return &models.ConsentRecord{SessionID: sessionID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}
	return &rec, nil
}
