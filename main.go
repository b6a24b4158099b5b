package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"

	"afterlifego/internal/api"
	"afterlifego/internal/auth"
	"afterlifego/internal/capability"
	"afterlifego/internal/config"
	"afterlifego/internal/persona"
	"afterlifego/internal/redis"
	"afterlifego/internal/service/avatar"
	"afterlifego/internal/storage"
	"afterlifego/internal/vault"
	"afterlifego/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := storage.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, cfg.DBDriver); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache, err = redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer cache.Close()
	} else {
		log.Printf("redis not configured, quota accounting runs on the database")
	}

	vlt, err := vault.New(cfg.StorageRoot)
	if err != nil {
		log.Fatalf("init vault: %v", err)
	}

	dispatcher := worker.NewDispatcher(cfg.MinWorkers, cfg.MaxWorkers, cfg.QueueSize, cfg.WorkerIdleTimeout)
	personas := persona.NewRegistry(cfg.PersonaDir)

	adapters := buildAdapters(cfg)
	avatarService := avatar.NewService(db, cfg, vlt, cache, dispatcher, personas, adapters)
	authService := auth.NewService(cfg.SecretKey, cfg.TokenTTL())
	handlers := api.NewHandler(avatarService, authService)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	if err := router.Run(cfg.ServerAddr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// buildAdapters selects hosted providers when API keys are configured and
// falls back to the built-in local implementations otherwise.
func buildAdapters(cfg *config.Config) avatar.Adapters {
	adapters := avatar.Adapters{
		Photo: capability.LocalPhotoEnhancer{},
		Voice: capability.LocalVoiceCloner{},
		Text:  capability.HeuristicTextAnalyzer{},
		Tuner: capability.ProfileTuner{},
	}

	pipeline := &capability.PipelineResponder{Chat: &capability.LocalChat{}}
	if cfg.LLMProvider != "" {
		chat, err := capability.NewLLMChat(context.Background(), capability.LLMConfig{
			Provider: cfg.LLMProvider,
			Model:    cfg.LLMModel,
			BaseURL:  cfg.LLMBaseURL,
			APIKey:   cfg.LLMAPIKey,
		})
		if err != nil {
			log.Fatalf("init llm chat: %v", err)
		}
		pipeline.Chat = chat
	} else {
		log.Printf("llm provider not configured, using canned responses")
	}

	if cfg.ElevenLabsAPIKey != "" {
		el := capability.NewElevenLabsClient(cfg.ElevenLabsBaseURL, cfg.ElevenLabsAPIKey, cfg.ExternalTimeout)
		adapters.Voice = el
		pipeline.Speech = el
	}
	if cfg.DIDAPIKey != "" {
		pipeline.Talks = capability.NewDIDClient(cfg.DIDBaseURL, cfg.DIDAPIKey, cfg.ExternalTimeout)
	}

	adapters.Responder = pipeline
	return adapters
}
