package avatar

import (
	"context"
	"database/sql"
	"fmt"

	"afterlifego/internal/models"
)

// getOwnedSession loads the session only when it belongs to userID. A missing
// session and someone else's session are indistinguishable to the caller.
func (s *Service) getOwnedSession(ctx context.Context, userID int64, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, state, key_handle, biography, created_at, updated_at FROM sessions WHERE id = ?",
		sessionID).
		Scan(&sess.ID, &sess.UserID, &sess.State, &sess.KeyHandle, &sess.Biography, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != userID {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// ListSessions returns all of the user's sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, state, created_at, updated_at FROM sessions WHERE user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var sess models.Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.State, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Status is the full session snapshot reported to clients.
type Status struct {
	Session *models.Session                           `json:"session"`
	Consent bool                                      `json:"consent_granted"`
	Steps   map[models.StepName]models.ProcessingStep `json:"steps"`
	Ready   bool                                      `json:"ready"`
	Usage   models.Usage                              `json:"usage"`
}

// SessionStatus assembles state, consent, per-step progress, readiness and
// today's quota usage.
func (s *Service) SessionStatus(ctx context.Context, userID int64, sessionID string) (*Status, error) {
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	steps, err := s.stepsFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	consented, err := s.isConsented(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	usage, err := s.limiter.Usage(ctx, sessionID, s.cfg.DailyInteractionLimit)
	if err != nil {
		return nil, err
	}
	return &Status{
		Session: sess,
		Consent: consented,
		Steps:   steps,
		Ready:   ready(steps),
		Usage:   usage,
	}, nil
}

func (s *Service) stepsFor(ctx context.Context, sessionID string) (map[models.StepName]models.ProcessingStep, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, status, result, detail, updated_at FROM processing_steps WHERE session_id = ?",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	defer rows.Close()

	steps := make(map[models.StepName]models.ProcessingStep, 4)
	for rows.Next() {
		st := models.ProcessingStep{SessionID: sessionID}
		if err := rows.Scan(&st.Name, &st.Status, &st.Result, &st.Detail, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps[st.Name] = st
	}
	return steps, rows.Err()
}

func (s *Service) setState(ctx context.Context, sessionID string, state models.SessionState) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?",
		state, now(), sessionID)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return nil
}
