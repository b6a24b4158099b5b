package avatar

import (
	"context"
	"fmt"
	"log"
	"os"
)

// DeleteSession destroys the session irreversibly: ciphertext artifacts
// first, then the encryption key, then the database rows. Ordering matters;
// once the key is gone any artifact that survived a partial removal is
// undecryptable anyway. A failure at any stage leaves the session queryable
// and the whole call safely retryable.
func (s *Service) DeleteSession(ctx context.Context, userID int64, sessionID string) error {
	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	s.dispatcher.CancelSession(sessionID)

	if err := os.RemoveAll(s.vault.SessionDir(sessionID)); err != nil {
		return &DeletionError{Stage: "artifacts", Err: err}
	}
	if err := s.vault.DestroyKey(sess.KeyHandle); err != nil {
		return &DeletionError{Stage: "key", Err: err}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &DeletionError{Stage: "records", Err: err}
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		"DELETE FROM interactions WHERE session_id = ?",
		"DELETE FROM processing_steps WHERE session_id = ?",
		"DELETE FROM consent_records WHERE session_id = ?",
		"DELETE FROM uploaded_files WHERE session_id = ?",
		"DELETE FROM usage_counters WHERE session_id = ?",
		"DELETE FROM sessions WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return &DeletionError{Stage: "records", Err: fmt.Errorf("%s: %w", stmt, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &DeletionError{Stage: "records", Err: err}
	}

	if err := s.cache.Del(ctx, consentCacheKey(sessionID), quotaKey(sessionID)); err != nil {
		log.Printf("[avatar] session %s: drop cache keys: %v", sessionID, err)
	}
	log.Printf("[avatar] session %s deleted for user %d", sessionID, userID)
	return nil
}
