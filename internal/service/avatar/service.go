// Package avatar implements the session lifecycle core: registration and
// login, upload intake, consent gating, the four processing steps, quota
// checked interaction and secure deletion.
package avatar

import (
	"context"
	"database/sql"
	"time"

	"afterlifego/internal/capability"
	"afterlifego/internal/config"
	"afterlifego/internal/ingest"
	"afterlifego/internal/models"
	"afterlifego/internal/persona"
	"afterlifego/internal/redis"
	"afterlifego/internal/vault"
	"afterlifego/internal/worker"
)

// Adapters bundles the capability providers the core calls during processing
// and interaction.
type Adapters struct {
	Photo     capability.PhotoEnhancer
	Voice     capability.VoiceCloner
	Text      capability.TextAnalyzer
	Tuner     capability.ConversationTuner
	Responder capability.AvatarResponder
}

type Service struct {
	db         *sql.DB
	cfg        *config.Config
	vault      *vault.Vault
	validator  *ingest.Validator
	cache      *redis.Client
	dispatcher *worker.Dispatcher
	personas   *persona.Registry
	adapters   Adapters
	limiter    Limiter
}

// NewService wires the core. cache may be nil; quota accounting then runs on
// the database alone.
func NewService(db *sql.DB, cfg *config.Config, vlt *vault.Vault, cache *redis.Client,
	dispatcher *worker.Dispatcher, personas *persona.Registry, adapters Adapters) *Service {

	validator := ingest.NewValidator(ingest.Limits{
		MaxPhotoBytes:   cfg.MaxPhotoBytes,
		MaxAudioBytes:   cfg.MaxAudioBytes,
		MaxTextBytes:    cfg.MaxTextBytes,
		MaxAudioSeconds: cfg.MaxAudioSeconds,
	})
	var limiter Limiter
	if cache != nil {
		limiter = newRedisLimiter(cache)
	} else {
		limiter = newDBLimiter(db)
	}
	return &Service{
		db:         db,
		cfg:        cfg,
		vault:      vlt,
		validator:  validator,
		cache:      cache,
		dispatcher: dispatcher,
		personas:   personas,
		adapters:   adapters,
		limiter:    limiter,
	}
}

// Personas exposes the persona registry for read endpoints.
func (s *Service) Personas() *persona.Registry { return s.personas }

// externalCtx bounds one outbound provider call.
func (s *Service) externalCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ExternalTimeout)
}

// ready reports whether the avatar can hold a conversation: a tuned
// conversation model plus at least one presentation artifact (portrait or
// cloned voice).
func ready(steps map[models.StepName]models.ProcessingStep) bool {
	done := func(n models.StepName) bool {
		st, ok := steps[n]
		return ok && st.Status == models.StepCompleted
	}
	return done(models.StepFineTuneConversation) &&
		(done(models.StepPreprocessPhoto) || done(models.StepCloneVoice))
}

func now() time.Time { return time.Now().UTC() }
