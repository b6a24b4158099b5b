// Package capability defines the external collaborator interfaces the core
// depends on: photo enhancement, voice cloning, text analysis, conversation
// tuning and avatar response generation. The core never talks to a provider
// directly; every provider failure surfaces as *ExternalError.
package capability

import (
	"context"
	"errors"
	"fmt"

	"afterlifego/internal/persona"
)

// ExternalError reports a failed call to an external capability provider.
type ExternalError struct {
	Provider string
	Op       string
	Timeout  bool
	Err      error
}

func (e *ExternalError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s timed out: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// External wraps a provider error, tagging timeouts so callers can decide on
// retries.
func External(provider, op string, err error) error {
	return &ExternalError{
		Provider: provider,
		Op:       op,
		Timeout:  errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled),
		Err:      err,
	}
}

// EnhancedPortrait is the outcome of photo preprocessing: a chosen primary
// portrait plus a compact summary safe to persist.
type EnhancedPortrait struct {
	Summary     string `json:"summary"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	SourceCount int    `json:"source_count"`
	// Portrait bytes are encrypted by the caller, never stored here.
	Portrait []byte `json:"-"`
}

// PersonalitySummary is the compact result of text analysis used to tune the
// conversation model.
type PersonalitySummary struct {
	DominantTrait      string   `json:"dominant_trait"`
	CommunicationStyle string   `json:"communication_style"`
	StyleIndicators    []string `json:"style_indicators,omitempty"`
	SentenceCount      int      `json:"sentence_count"`
}

// Exchange is one prior user/avatar turn supplied as conversation context.
type Exchange struct {
	UserInput string
	Response  string
}

// RespondRequest carries everything the responder needs for one turn.
type RespondRequest struct {
	// ModelRef is the tuned conversation profile produced by the tuner.
	ModelRef      string
	VoiceModelRef string
	// Portrait is the decrypted enhanced portrait, present only for the
	// duration of the call.
	Portrait  []byte
	Persona   *persona.Persona
	History   []Exchange
	UserInput string
	// ChunkFn, when set, receives transcript chunks as they are produced.
	// Returning an error from it cancels the stream.
	ChunkFn func(string) error
}

// AvatarReply is the responder's output: always a transcript, optionally a
// rendered talking-head video.
type AvatarReply struct {
	Transcript string
	Video      []byte
	VideoMIME  string
}

type PhotoEnhancer interface {
	Process(ctx context.Context, photos [][]byte) (*EnhancedPortrait, error)
}

type VoiceCloner interface {
	Clone(ctx context.Context, name string, audio []byte) (string, error)
}

type TextAnalyzer interface {
	Analyze(ctx context.Context, text string) (*PersonalitySummary, error)
}

type ConversationTuner interface {
	Tune(ctx context.Context, summary *PersonalitySummary) (string, error)
}

type AvatarResponder interface {
	Respond(ctx context.Context, req *RespondRequest) (*AvatarReply, error)
}

// ChatEngine produces the transcript leg of a response.
type ChatEngine interface {
	Reply(ctx context.Context, req *RespondRequest) (string, error)
}

// SpeechSynthesizer renders text in a cloned voice.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, voiceRef, text string) ([]byte, error)
}

// TalkMaker renders a talking-head video from a portrait and spoken audio.
type TalkMaker interface {
	CreateTalk(ctx context.Context, portrait, audio []byte, script string) ([]byte, error)
}

// PipelineResponder chains chat, speech and video generation. Speech and
// Talks are optional; without them the reply is transcript-only.
type PipelineResponder struct {
	Chat   ChatEngine
	Speech SpeechSynthesizer
	Talks  TalkMaker
}

func (p *PipelineResponder) Respond(ctx context.Context, req *RespondRequest) (*AvatarReply, error) {
	transcript, err := p.Chat.Reply(ctx, req)
	if err != nil {
		return nil, err
	}
	reply := &AvatarReply{Transcript: transcript}
	if p.Speech == nil || p.Talks == nil || req.VoiceModelRef == "" || len(req.Portrait) == 0 {
		return reply, nil
	}
	audio, err := p.Speech.Synthesize(ctx, req.VoiceModelRef, transcript)
	if err != nil {
		return nil, err
	}
	video, err := p.Talks.CreateTalk(ctx, req.Portrait, audio, transcript)
	if err != nil {
		return nil, err
	}
	reply.Video = video
	reply.VideoMIME = "video/mp4"
	return reply, nil
}
