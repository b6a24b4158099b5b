package avatar

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"afterlifego/internal/capability"
	"afterlifego/internal/models"
)

const historyWindow = 10

// Interact runs one conversation turn: consent and readiness gates, quota,
// then the response pipeline on a pooled worker. chunkFn may be nil; when set
// it receives transcript chunks as the model streams them.
func (s *Service) Interact(ctx context.Context, userID int64, sessionID, userInput, personaID string,
	chunkFn func(string) error) (*models.Interaction, models.Usage, error) {

	var usage models.Usage
	userInput = strings.TrimSpace(userInput)
	if userInput == "" {
		return nil, usage, ErrEmptyInput
	}

	sess, err := s.getOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, usage, err
	}
	if err := s.requireConsent(ctx, sessionID); err != nil {
		return nil, usage, err
	}
	steps, err := s.stepsFor(ctx, sessionID)
	if err != nil {
		return nil, usage, err
	}
	if !ready(steps) {
		return nil, usage, ErrNotReady
	}

	req, err := s.buildRespondRequest(ctx, sess, steps, userInput, personaID, chunkFn)
	if err != nil {
		return nil, usage, err
	}

	// the quota slot is taken before the provider call; on failure it is
	// only returned when the deployment is configured that way
	if err := s.limiter.CheckAndIncrement(ctx, sessionID, s.cfg.DailyInteractionLimit); err != nil {
		return nil, usage, err
	}

	reply, err := s.respond(ctx, sess.ID, req)
	if err != nil {
		if !s.cfg.FailedInteractConsumesQuota {
			s.limiter.Decrement(ctx, sessionID)
		}
		return nil, usage, err
	}

	interaction := &models.Interaction{
		SessionID: sessionID,
		UserInput: userInput,
		Response:  reply.Transcript,
		CreatedAt: now(),
	}
	trace := []string{"chat"}
	if len(reply.Video) > 0 {
		dest := filepath.Join(s.vault.SessionDir(sessionID), "interaction_"+uuid.NewString()+".enc")
		if err := s.vault.EncryptToFile(reply.Video, sess.KeyHandle, dest); err != nil {
			log.Printf("[avatar] session %s: store interaction video: %v", sessionID, err)
		} else {
			interaction.VideoPath = dest
			trace = append(trace, "speech", "video")
		}
	}
	interaction.StepTrace = strings.Join(trace, ",")

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO interactions (session_id, user_input, response, video_path, step_trace, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		interaction.SessionID, interaction.UserInput, interaction.Response,
		interaction.VideoPath, interaction.StepTrace, interaction.CreatedAt)
	if err != nil {
		return nil, usage, fmt.Errorf("record interaction: %w", err)
	}
	interaction.ID, _ = res.LastInsertId()

	if sess.State != models.StateInteracting {
		if err := s.setState(ctx, sessionID, models.StateInteracting); err != nil {
			log.Printf("[avatar] session %s: enter interacting: %v", sessionID, err)
		}
	}

	usage, err = s.limiter.Usage(ctx, sessionID, s.cfg.DailyInteractionLimit)
	if err != nil {
		log.Printf("[avatar] session %s: read usage: %v", sessionID, err)
		err = nil
	}
	return interaction, usage, nil
}

// buildRespondRequest gathers the tuned model reference, voice reference,
// decrypted portrait, optional persona and recent history. The portrait
// plaintext lives only inside the request for the duration of the call.
func (s *Service) buildRespondRequest(ctx context.Context, sess *models.Session,
	steps map[models.StepName]models.ProcessingStep, userInput, personaID string,
	chunkFn func(string) error) (*capability.RespondRequest, error) {

	req := &capability.RespondRequest{
		UserInput: userInput,
		ChunkFn:   chunkFn,
	}
	if st, ok := steps[models.StepFineTuneConversation]; ok && st.Status == models.StepCompleted {
		req.ModelRef = st.Result
	}
	if st, ok := steps[models.StepCloneVoice]; ok && st.Status == models.StepCompleted {
		var ref struct {
			VoiceModelRef string `json:"voice_model_ref"`
		}
		if json.Unmarshal([]byte(st.Result), &ref) == nil {
			req.VoiceModelRef = ref.VoiceModelRef
		}
	}
	if st, ok := steps[models.StepPreprocessPhoto]; ok && st.Status == models.StepCompleted {
		portraitPath := filepath.Join(s.vault.SessionDir(sess.ID), portraitFile)
		if _, err := os.Stat(portraitPath); err == nil {
			portrait, err := s.vault.DecryptFile(portraitPath, sess.KeyHandle)
			if err != nil {
				return nil, fmt.Errorf("decrypt portrait: %w", err)
			}
			req.Portrait = portrait
		}
	}
	if personaID != "" {
		p, err := s.personas.Load(personaID)
		if err != nil {
			return nil, err
		}
		req.Persona = p
	}
	history, err := s.recentHistory(ctx, sess.ID, historyWindow)
	if err != nil {
		return nil, err
	}
	req.History = history
	return req, nil
}

func (s *Service) respond(ctx context.Context, sessionID string, req *capability.RespondRequest) (*capability.AvatarReply, error) {
	callCtx, cancel := s.externalCtx(ctx)
	defer cancel()

	var (
		reply  *capability.AvatarReply
		runErr error
	)
	err := s.dispatcher.Do(callCtx, sessionID, "interact", func() {
		reply, runErr = s.adapters.Responder.Respond(callCtx, req)
	})
	if err != nil {
		return nil, capability.External("worker", "interact", err)
	}
	return reply, runErr
}

// recentHistory loads the last n exchanges in chronological order.
func (s *Service) recentHistory(ctx context.Context, sessionID string, n int) ([]capability.Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_input, response FROM interactions WHERE session_id = ? ORDER BY id DESC LIMIT ?",
		sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var reversed []capability.Exchange
	for rows.Next() {
		var ex capability.Exchange
		if err := rows.Scan(&ex.UserInput, &ex.Response); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		reversed = append(reversed, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	history := make([]capability.Exchange, len(reversed))
	for i, ex := range reversed {
		history[len(reversed)-1-i] = ex
	}
	return history, nil
}

// History returns the session's full interaction log, oldest first.
func (s *Service) History(ctx context.Context, userID int64, sessionID string) ([]models.Interaction, error) {
	if _, err := s.getOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, session_id, user_input, response, video_path, step_trace, created_at FROM interactions WHERE session_id = ? ORDER BY id",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	defer rows.Close()

	history := make([]models.Interaction, 0)
	for rows.Next() {
		var it models.Interaction
		if err := rows.Scan(&it.ID, &it.SessionID, &it.UserInput, &it.Response, &it.VideoPath, &it.StepTrace, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		history = append(history, it)
	}
	return history, rows.Err()
}
