package avatar

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterlifego/internal/ingest"
	"afterlifego/internal/models"
)

func TestSessionLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "alice", "", "password123")
	require.NoError(t, err)

	sess, warning, err := s.CreateSession(ctx, user.ID,
		ingestUploads(t), testWAV(t, 5), testText(), "")
	require.NoError(t, err)
	assert.Empty(t, warning)
	assert.Equal(t, models.StateConsentPending, sess.State)

	// everything behind the consent gate is rejected before granting
	_, err = s.RunStep(ctx, user.ID, sess.ID, string(models.StepProcessText))
	assert.ErrorIs(t, err, ErrConsentRequired)
	_, _, err = s.Interact(ctx, user.ID, sess.ID, "hello", "", nil)
	assert.ErrorIs(t, err, ErrConsentRequired)

	// partial consent is rejected whole
	_, err = s.RecordConsent(ctx, user.ID, sess.ID, true, true, false, "")
	assert.ErrorIs(t, err, ErrConsentIncomplete)

	_, err = s.RecordConsent(ctx, user.ID, sess.ID, true, true, true, "ua")
	require.NoError(t, err)

	// run all four steps
	for _, step := range models.AllSteps() {
		st, err := s.RunStep(ctx, user.ID, sess.ID, string(step))
		require.NoError(t, err, step)
		assert.Equal(t, models.StepCompleted, st.Status, step)
		assert.NotEmpty(t, st.Result, step)
	}

	status, err := s.SessionStatus(ctx, user.ID, sess.ID)
	require.NoError(t, err)
	assert.True(t, status.Ready)
	assert.Equal(t, models.StateReady, status.Session.State)
	assert.True(t, status.Consent)

	// a completed step re-run is a cached no-op
	first, err := s.GetStep(ctx, user.ID, sess.ID, string(models.StepProcessText))
	require.NoError(t, err)
	again, err := s.RunStep(ctx, user.ID, sess.ID, string(models.StepProcessText))
	require.NoError(t, err)
	assert.Equal(t, first.Result, again.Result)
	assert.True(t, first.UpdatedAt.Equal(again.UpdatedAt))

	// interact and check quota accounting
	interaction, usage, err := s.Interact(ctx, user.ID, sess.ID, "Do you remember me?", "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, interaction.Response)
	assert.Equal(t, 1, usage.Used)

	history, err := s.History(ctx, user.ID, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Do you remember me?", history[0].UserInput)
}

func TestInteractQuotaExhaustion(t *testing.T) {
	s := newTestService(t)
	s.cfg.DailyInteractionLimit = 3
	ctx := context.Background()

	user, err := s.Register(ctx, "bob", "", "password123")
	require.NoError(t, err)
	sess := readySession(t, s, user.ID)

	for i := 0; i < 3; i++ {
		_, _, err := s.Interact(ctx, user.ID, sess.ID, "hello again", "", nil)
		require.NoError(t, err)
	}
	_, _, err = s.Interact(ctx, user.ID, sess.ID, "one more", "", nil)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	usage, err := s.limiter.Usage(ctx, sess.ID, s.cfg.DailyInteractionLimit)
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Used)
	assert.Zero(t, usage.Remaining)
}

func TestInteractRequiresReadiness(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "carol", "", "password123")
	require.NoError(t, err)
	sess, _, err := s.CreateSession(ctx, user.ID, ingestUploads(t), testWAV(t, 5), testText(), "")
	require.NoError(t, err)
	_, err = s.RecordConsent(ctx, user.ID, sess.ID, true, true, true, "")
	require.NoError(t, err)

	// only text analysis done: no tuned model yet
	_, err = s.RunStep(ctx, user.ID, sess.ID, string(models.StepProcessText))
	require.NoError(t, err)
	_, _, err = s.Interact(ctx, user.ID, sess.ID, "hello", "", nil)
	assert.ErrorIs(t, err, ErrNotReady)

	// tuned model alone is not enough either; a portrait or voice is needed
	status, err := s.SessionStatus(ctx, user.ID, sess.ID)
	require.NoError(t, err)
	assert.False(t, status.Ready)
}

func TestOwnershipHidesSessions(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	owner, err := s.Register(ctx, "owner", "", "password123")
	require.NoError(t, err)
	intruder, err := s.Register(ctx, "intruder", "", "password123")
	require.NoError(t, err)
	sess := readySession(t, s, owner.ID)

	_, err = s.SessionStatus(ctx, intruder.ID, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.RunStep(ctx, intruder.ID, sess.ID, string(models.StepProcessText))
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = s.Interact(ctx, intruder.ID, sess.ID, "hi", "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	err = s.DeleteSession(ctx, intruder.ID, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// the owner is unaffected
	_, err = s.SessionStatus(ctx, owner.ID, sess.ID)
	assert.NoError(t, err)
}

func TestUnknownStepName(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "erin", "", "password123")
	require.NoError(t, err)
	sess := readySession(t, s, user.ID)

	_, err = s.RunStep(ctx, user.ID, sess.ID, "summon_ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetStep(ctx, user.ID, sess.ID, "summon_ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSessionDestroysEverything(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "frank", "", "password123")
	require.NoError(t, err)
	sess := readySession(t, s, user.ID)
	_, _, err = s.Interact(ctx, user.ID, sess.ID, "remember this", "", nil)
	require.NoError(t, err)

	dir := s.vault.SessionDir(sess.ID)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	require.NoError(t, s.DeleteSession(ctx, user.ID, sess.ID))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	_, err = s.SessionStatus(ctx, user.ID, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.History(ctx, user.ID, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again reads as not found, not as an error to retry
	err = s.DeleteSession(ctx, user.ID, sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectedUploadLeavesNoSession(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "hank", "", "password123")
	require.NoError(t, err)

	_, _, err = s.CreateSession(ctx, user.ID, nil, testWAV(t, 5), testText(), "")
	var vErr *ingest.ValidationError
	require.ErrorAs(t, err, &vErr)

	// a failed upload never creates a session row
	sessions, err := s.ListSessions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestConsentIsImmutable(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "grace", "", "password123")
	require.NoError(t, err)
	sess, _, err := s.CreateSession(ctx, user.ID, ingestUploads(t), testWAV(t, 5), testText(), "")
	require.NoError(t, err)

	first, err := s.RecordConsent(ctx, user.ID, sess.ID, true, true, true, "")
	require.NoError(t, err)
	second, err := s.RecordConsent(ctx, user.ID, sess.ID, true, true, true, "")
	require.NoError(t, err)
	assert.WithinDuration(t, first.GrantedAt, second.GrantedAt, time.Second)
}

// readySession uploads, consents and completes enough steps for interaction.
func readySession(t *testing.T, s *Service, userID int64) *models.Session {
	t.Helper()
	ctx := context.Background()
	sess, _, err := s.CreateSession(ctx, userID, ingestUploads(t), testWAV(t, 5), testText(), "")
	require.NoError(t, err)
	_, err = s.RecordConsent(ctx, userID, sess.ID, true, true, true, "")
	require.NoError(t, err)
	for _, step := range []models.StepName{models.StepPreprocessPhoto, models.StepProcessText, models.StepFineTuneConversation} {
		_, err = s.RunStep(ctx, userID, sess.ID, string(step))
		require.NoError(t, err)
	}
	return sess
}

func ingestUploads(t *testing.T) []ingest.Upload {
	return []ingest.Upload{testJPEG(t)}
}
