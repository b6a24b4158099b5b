package avatar

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"afterlifego/internal/ingest"
	"afterlifego/internal/models"
)

// CreateSession validates the upload bundle, provisions an encryption key and
// persists every artifact as ciphertext. On success the session lands in
// CONSENT_PENDING; nothing readable ever hits disk. Any failure rolls the
// whole thing back: files, key and rows.
func (s *Service) CreateSession(ctx context.Context, userID int64, photos []ingest.Upload,
	audio, text ingest.Upload, biography string) (*models.Session, string, error) {

	bundle, err := s.validator.ValidateBundle(photos, audio, text)
	if err != nil {
		return nil, "", err
	}

	sessionID := uuid.NewString()
	keyHandle, err := s.vault.ProvisionKey()
	if err != nil {
		return nil, "", fmt.Errorf("provision session key: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(s.vault.SessionDir(sessionID)); err != nil {
			log.Printf("[avatar] cleanup session dir %s: %v", sessionID, err)
		}
		if err := s.vault.DestroyKey(keyHandle); err != nil {
			log.Printf("[avatar] cleanup session key %s: %v", sessionID, err)
		}
	}

	dir := s.vault.SessionDir(sessionID)
	type stored struct {
		kind models.FileKind
		name string
		size int64
		path string
	}
	var files []stored
	encrypt := func(kind models.FileKind, up ingest.Upload, filename string) error {
		path := filepath.Join(dir, filename)
		if err := s.vault.EncryptToFile(up.Data, keyHandle, path); err != nil {
			return fmt.Errorf("encrypt %s: %w", filename, err)
		}
		files = append(files, stored{kind: kind, name: up.Name, size: int64(len(up.Data)), path: path})
		return nil
	}
	for i, p := range bundle.Photos {
		if err := encrypt(models.FilePhoto, p, fmt.Sprintf("photo_%d.enc", i)); err != nil {
			cleanup()
			return nil, "", err
		}
	}
	if err := encrypt(models.FileAudio, bundle.Audio, "audio.enc"); err != nil {
		cleanup()
		return nil, "", err
	}
	if err := encrypt(models.FileText, bundle.Text, "text.enc"); err != nil {
		cleanup()
		return nil, "", err
	}

	createdAt := now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		cleanup()
		return nil, "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess := &models.Session{
		ID:        sessionID,
		UserID:    userID,
		State:     models.StateFilesUploaded,
		KeyHandle: keyHandle,
		Biography: biography,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	_, err = tx.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, state, key_handle, biography, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sess.ID, sess.UserID, sess.State, sess.KeyHandle, sess.Biography, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		cleanup()
		return nil, "", fmt.Errorf("insert session: %w", err)
	}
	// files are in; consent collection starts immediately, in the same tx
	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET state = ? WHERE id = ?", models.StateConsentPending, sessionID)
	if err != nil {
		cleanup()
		return nil, "", fmt.Errorf("advance session state: %w", err)
	}
	sess.State = models.StateConsentPending
	for _, f := range files {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO uploaded_files (session_id, kind, original_name, size, stored_path, created_at) VALUES (?, ?, ?, ?, ?, ?)",
			sessionID, f.kind, f.name, f.size, f.path, createdAt)
		if err != nil {
			cleanup()
			return nil, "", fmt.Errorf("insert file record: %w", err)
		}
	}
	for _, step := range models.AllSteps() {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO processing_steps (session_id, name, status, result, detail, updated_at) VALUES (?, ?, 'pending', '', '', ?)",
			sessionID, step, createdAt)
		if err != nil {
			cleanup()
			return nil, "", fmt.Errorf("insert step record: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		cleanup()
		return nil, "", fmt.Errorf("commit session: %w", err)
	}

	log.Printf("[avatar] session %s created for user %d (%d files)", sessionID, userID, len(files))
	return sess, bundle.Warning, nil
}

// sessionFiles loads the encrypted artifact records of one kind, or all kinds
// when kind is empty.
func (s *Service) sessionFiles(ctx context.Context, sessionID string, kind models.FileKind) ([]models.UploadedFile, error) {
	query := "SELECT id, session_id, kind, original_name, size, stored_path, created_at FROM uploaded_files WHERE session_id = ?"
	args := []any{sessionID}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()

	var files []models.UploadedFile
	for rows.Next() {
		var f models.UploadedFile
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Kind, &f.OriginalName, &f.Size, &f.StoredPath, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
