package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// LLMConfig selects and configures the chat model behind the responder.
type LLMConfig struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// LLMChat generates avatar transcripts with a hosted chat model.
type LLMChat struct {
	chatModel model.BaseChatModel
	provider  string
}

// NewLLMChat builds the chat engine for the configured provider.
func NewLLMChat(ctx context.Context, cfg LLMConfig) (*LLMChat, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch cfg.Provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("invalid llm provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}
	return &LLMChat{chatModel: chatModel, provider: cfg.Provider}, nil
}

// Reply streams a transcript for the request, feeding chunks to ChunkFn as
// they arrive.
func (l *LLMChat) Reply(ctx context.Context, req *RespondRequest) (string, error) {
	messages := buildMessages(req)
	streamReader, err := l.chatModel.Stream(ctx, messages)
	if err != nil {
		return "", External(l.provider, "chat", err)
	}
	var full strings.Builder
	for {
		chunk, err := streamReader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", External(l.provider, "chat stream", err)
		}
		if chunk.Content == "" {
			continue
		}
		full.WriteString(chunk.Content)
		if req.ChunkFn != nil {
			if err := req.ChunkFn(chunk.Content); err != nil {
				return "", err
			}
		}
	}
	if full.Len() == 0 {
		return "", External(l.provider, "chat", fmt.Errorf("empty response"))
	}
	return full.String(), nil
}

func buildMessages(req *RespondRequest) []*schema.Message {
	messages := []*schema.Message{schema.SystemMessage(systemPrompt(req))}
	for _, ex := range req.History {
		messages = append(messages,
			schema.UserMessage(ex.UserInput),
			schema.AssistantMessage(ex.Response, nil),
		)
	}
	messages = append(messages, schema.UserMessage(req.UserInput))
	return messages
}

func systemPrompt(req *RespondRequest) string {
	var b strings.Builder
	b.WriteString("You are a conversational avatar speaking in first person as the person described below. Stay in character, keep answers short and natural.\n")

	var profile struct {
		PersonalityProfile PersonalitySummary `json:"personality_profile"`
	}
	if req.ModelRef != "" && json.Unmarshal([]byte(req.ModelRef), &profile) == nil {
		p := profile.PersonalityProfile
		if p.DominantTrait != "" {
			fmt.Fprintf(&b, "Dominant personality trait: %s.\n", p.DominantTrait)
		}
		if p.CommunicationStyle != "" {
			fmt.Fprintf(&b, "Communication style: %s.\n", p.CommunicationStyle)
		}
		if len(p.StyleIndicators) > 0 {
			fmt.Fprintf(&b, "Typical expressions: %s.\n", strings.Join(p.StyleIndicators, "; "))
		}
	}
	if p := req.Persona; p != nil {
		fmt.Fprintf(&b, "You present as %s. Tone: %s. Register: %s.\n", p.DisplayName, p.Style.Tone, p.Style.Register)
		if len(p.Style.Quirks) > 0 {
			fmt.Fprintf(&b, "Quirks: %s.\n", strings.Join(p.Style.Quirks, "; "))
		}
		if len(p.AvoidTopics) > 0 {
			fmt.Fprintf(&b, "Never discuss: %s.", strings.Join(p.AvoidTopics, ", "))
			if len(p.Refusals) > 0 {
				fmt.Fprintf(&b, " Deflect with lines like: %q.", p.Refusals[0])
			}
			b.WriteString("\n")
		}
		for _, qa := range p.PinnedQA {
			fmt.Fprintf(&b, "If asked %q answer exactly: %q.\n", qa.Q, qa.A)
		}
	}
	return b.String()
}
