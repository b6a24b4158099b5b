package avatar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"

	"afterlifego/internal/capability"
	"afterlifego/internal/models"
)

const portraitFile = "portrait.enc"

// GetStep returns the current status of one processing step.
func (s *Service) GetStep(ctx context.Context, userID int64, sessionID, stepName string) (*models.ProcessingStep, error) {
	if !models.ValidStep(stepName) {
		return nil, ErrNotFound
	}
	if _, err := s.getOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.loadStep(ctx, sessionID, models.StepName(stepName))
}

// RunStep executes one processing step. Completed steps are never redone:
// the stored result comes back as-is. A step already running in another
// request returns ErrStepInProgress. The provider call itself runs on the
// worker pool under the external timeout, never under a lock.
func (s *Service) RunStep(ctx context.Context, userID int64, sessionID, stepName string) (*models.ProcessingStep, error) {
	if !models.ValidStep(stepName) {
		return nil, ErrNotFound
	}
	name := models.StepName(stepName)

	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.requireConsent(ctx, sessionID); err != nil {
		return nil, err
	}

	step, err := s.loadStep(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	if step.Status == models.StepCompleted {
		return step, nil
	}

	claimed, err := s.claimStep(ctx, sessionID, name)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// lost the claim: either another request is running it right now or
		// it completed between our read and the claim
		step, err = s.loadStep(ctx, sessionID, name)
		if err != nil {
			return nil, err
		}
		if step.Status == models.StepCompleted {
			return step, nil
		}
		return nil, ErrStepInProgress
	}

	if sess.State == models.StateConsented {
		if err := s.setState(ctx, sessionID, models.StateProcessing); err != nil {
			log.Printf("[avatar] session %s: enter processing: %v", sessionID, err)
		}
	}

	result, runErr := s.executeStep(ctx, sess, name)
	if runErr != nil {
		if err := s.finishStep(ctx, sessionID, name, models.StepError, "", runErr.Error()); err != nil {
			log.Printf("[avatar] session %s: record step error: %v", sessionID, err)
		}
		return nil, runErr
	}
	if err := s.finishStep(ctx, sessionID, name, models.StepCompleted, result, ""); err != nil {
		return nil, err
	}
	log.Printf("[avatar] session %s: step %s completed", sessionID, name)

	steps, err := s.stepsFor(ctx, sessionID)
	if err == nil && ready(steps) {
		if err := s.setState(ctx, sessionID, models.StateReady); err != nil {
			log.Printf("[avatar] session %s: enter ready: %v", sessionID, err)
		}
	}
	return s.loadStep(ctx, sessionID, name)
}

// executeStep dispatches the provider call for one step and returns the
// compact JSON result to persist.
func (s *Service) executeStep(ctx context.Context, sess *models.Session, name models.StepName) (string, error) {
	callCtx, cancel := s.externalCtx(ctx)
	defer cancel()

	var (
		result string
		runErr error
	)
	err := s.dispatcher.Do(callCtx, sess.ID, string(name), func() {
		switch name {
		case models.StepPreprocessPhoto:
			result, runErr = s.runPreprocessPhoto(callCtx, sess)
		case models.StepCloneVoice:
			result, runErr = s.runCloneVoice(callCtx, sess)
		case models.StepProcessText:
			result, runErr = s.runProcessText(callCtx, sess)
		case models.StepFineTuneConversation:
			result, runErr = s.runFineTune(callCtx, sess)
		}
	})
	if err != nil {
		return "", capability.External("worker", string(name), err)
	}
	return result, runErr
}

func (s *Service) runPreprocessPhoto(ctx context.Context, sess *models.Session) (string, error) {
	files, err := s.sessionFiles(ctx, sess.ID, models.FilePhoto)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("session %s has no photos", sess.ID)
	}
	photos := make([][]byte, 0, len(files))
	for _, f := range files {
		plain, err := s.vault.DecryptFile(f.StoredPath, sess.KeyHandle)
		if err != nil {
			return "", fmt.Errorf("decrypt %s: %w", f.OriginalName, err)
		}
		photos = append(photos, plain)
	}
	portrait, err := s.adapters.Photo.Process(ctx, photos)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(s.vault.SessionDir(sess.ID), portraitFile)
	if err := s.vault.EncryptToFile(portrait.Portrait, sess.KeyHandle, dest); err != nil {
		return "", fmt.Errorf("store portrait: %w", err)
	}
	out, err := json.Marshal(portrait)
	if err != nil {
		return "", fmt.Errorf("encode portrait summary: %w", err)
	}
	return string(out), nil
}

func (s *Service) runCloneVoice(ctx context.Context, sess *models.Session) (string, error) {
	files, err := s.sessionFiles(ctx, sess.ID, models.FileAudio)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("session %s has no audio", sess.ID)
	}
	audio, err := s.vault.DecryptFile(files[0].StoredPath, sess.KeyHandle)
	if err != nil {
		return "", fmt.Errorf("decrypt audio: %w", err)
	}
	voiceRef, err := s.adapters.Voice.Clone(ctx, "session-"+sess.ID, audio)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(map[string]string{"voice_model_ref": voiceRef})
	if err != nil {
		return "", fmt.Errorf("encode voice ref: %w", err)
	}
	return string(out), nil
}

func (s *Service) runProcessText(ctx context.Context, sess *models.Session) (string, error) {
	summary, err := s.analyzeSessionText(ctx, sess)
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("encode personality summary: %w", err)
	}
	return string(out), nil
}

func (s *Service) runFineTune(ctx context.Context, sess *models.Session) (string, error) {
	// prefer the stored analysis, falling back to analyzing inline so the
	// steps stay independently runnable
	var summary *capability.PersonalitySummary
	step, err := s.loadStep(ctx, sess.ID, models.StepProcessText)
	if err == nil && step.Status == models.StepCompleted && step.Result != "" {
		var stored capability.PersonalitySummary
		if json.Unmarshal([]byte(step.Result), &stored) == nil {
			summary = &stored
		}
	}
	if summary == nil {
		summary, err = s.analyzeSessionText(ctx, sess)
		if err != nil {
			return "", err
		}
	}
	return s.adapters.Tuner.Tune(ctx, summary)
}

// analyzeSessionText decrypts the writing samples, appends the biography when
// one was supplied, and runs the analyzer.
func (s *Service) analyzeSessionText(ctx context.Context, sess *models.Session) (*capability.PersonalitySummary, error) {
	files, err := s.sessionFiles(ctx, sess.ID, models.FileText)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("session %s has no text", sess.ID)
	}
	plain, err := s.vault.DecryptFile(files[0].StoredPath, sess.KeyHandle)
	if err != nil {
		return nil, fmt.Errorf("decrypt text: %w", err)
	}
	text := string(plain)
	if sess.Biography != "" {
		text += "\n" + sess.Biography
	}
	return s.adapters.Text.Analyze(ctx, text)
}

func (s *Service) loadStep(ctx context.Context, sessionID string, name models.StepName) (*models.ProcessingStep, error) {
	st := models.ProcessingStep{SessionID: sessionID, Name: name}
	err := s.db.QueryRowContext(ctx,
		"SELECT status, result, detail, updated_at FROM processing_steps WHERE session_id = ? AND name = ?",
		sessionID, name).
		Scan(&st.Status, &st.Result, &st.Detail, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load step: %w", err)
	}
	return &st, nil
}

// claimStep atomically marks the step as processing. Only pending and failed
// steps can be claimed; the conditional update is the whole locking story.
func (s *Service) claimStep(ctx context.Context, sessionID string, name models.StepName) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE processing_steps SET status = 'processing', detail = '', updated_at = ? WHERE session_id = ? AND name = ? AND status IN ('pending', 'error')",
		now(), sessionID, name)
	if err != nil {
		return false, fmt.Errorf("claim step: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim step: %w", err)
	}
	return n == 1, nil
}

func (s *Service) finishStep(ctx context.Context, sessionID string, name models.StepName,
	status models.StepStatus, result, detail string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE processing_steps SET status = ?, result = ?, detail = ?, updated_at = ? WHERE session_id = ? AND name = ?",
		status, result, detail, now(), sessionID, name)
	if err != nil {
		return fmt.Errorf("finish step: %w", err)
	}
	return nil
}
