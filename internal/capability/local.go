package capability

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand"
	"sort"
	"strings"
)

// LocalPhotoEnhancer picks the first decodable photo as the portrait. It
// stands in when no hosted enhancement provider is configured.
type LocalPhotoEnhancer struct{}

func (LocalPhotoEnhancer) Process(_ context.Context, photos [][]byte) (*EnhancedPortrait, error) {
	for _, p := range photos {
		cfg, format, err := image.DecodeConfig(bytes.NewReader(p))
		if err != nil {
			continue
		}
		return &EnhancedPortrait{
			Summary:     fmt.Sprintf("portrait selected from %d photo(s), %s %dx%d", len(photos), format, cfg.Width, cfg.Height),
			Width:       cfg.Width,
			Height:      cfg.Height,
			SourceCount: len(photos),
			Portrait:    p,
		}, nil
	}
	return nil, External("local", "enhance photos", fmt.Errorf("no decodable photo among %d", len(photos)))
}

// LocalVoiceCloner derives a deterministic reference from the audio sample
// instead of calling a cloning provider.
type LocalVoiceCloner struct{}

func (LocalVoiceCloner) Clone(_ context.Context, name string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", External("local", "clone voice", fmt.Errorf("empty audio sample"))
	}
	sum := sha256.Sum256(audio)
	return "local-voice-" + hex.EncodeToString(sum[:8]), nil
}

var traitKeywords = map[string][]string{
	"warm":       {"love", "care", "family", "friend", "heart", "dear", "miss you", "hug"},
	"humorous":   {"laugh", "joke", "funny", "haha", "silly", "hilarious"},
	"thoughtful": {"think", "wonder", "believe", "remember", "consider", "reflect"},
	"optimistic": {"hope", "great", "wonderful", "excited", "looking forward", "happy"},
	"direct":     {"should", "must", "need to", "important", "listen", "point is"},
}

// HeuristicTextAnalyzer scores writing samples against trait keyword lists
// and summarizes communication style from sentence statistics.
type HeuristicTextAnalyzer struct{}

func (HeuristicTextAnalyzer) Analyze(_ context.Context, text string) (*PersonalitySummary, error) {
	lower := strings.ToLower(text)
	scores := make(map[string]int, len(traitKeywords))
	for trait, words := range traitKeywords {
		for _, w := range words {
			scores[trait] += strings.Count(lower, w)
		}
	}

	traits := make([]string, 0, len(scores))
	for t := range scores {
		traits = append(traits, t)
	}
	sort.Slice(traits, func(i, j int) bool {
		if scores[traits[i]] != scores[traits[j]] {
			return scores[traits[i]] > scores[traits[j]]
		}
		return traits[i] < traits[j]
	})
	dominant := "thoughtful"
	if len(traits) > 0 && scores[traits[0]] > 0 {
		dominant = traits[0]
	}

	sentences := splitSentences(text)
	avgWords := 0
	for _, s := range sentences {
		avgWords += len(strings.Fields(s))
	}
	if len(sentences) > 0 {
		avgWords /= len(sentences)
	}
	style := "balanced"
	switch {
	case avgWords > 20:
		style = "elaborate"
	case avgWords > 0 && avgWords < 8:
		style = "concise"
	}

	var indicators []string
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s)
		if len(trimmed) > 0 && len(trimmed) < 60 {
			indicators = append(indicators, trimmed)
		}
		if len(indicators) == 3 {
			break
		}
	}

	return &PersonalitySummary{
		DominantTrait:      dominant,
		CommunicationStyle: style,
		StyleIndicators:    indicators,
		SentenceCount:      len(sentences),
	}, nil
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" && len(strings.Fields(s)) > 1 {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" && len(strings.Fields(s)) > 1 {
		out = append(out, s)
	}
	return out
}

// ProfileTuner packages the personality summary into a model reference the
// responder can interpret. No remote fine-tune job is involved.
type ProfileTuner struct{}

func (ProfileTuner) Tune(_ context.Context, summary *PersonalitySummary) (string, error) {
	ref, err := json.Marshal(map[string]any{"personality_profile": summary})
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}
	return string(ref), nil
}

var cannedByTrait = map[string][]string{
	"warm": {
		"It means so much to hear from you. Tell me what's been on your mind.",
		"You know I always loved talking with you about this.",
	},
	"humorous": {
		"Ha, you always did know how to get me going on that topic.",
		"You're lucky I can't wag a finger at you from here.",
	},
	"thoughtful": {
		"That's something I've thought about quite a bit, actually.",
		"Let me sit with that for a moment. It's a good question.",
	},
	"optimistic": {
		"Whatever happens, I really think things work out the way they should.",
		"There's always something good coming, even when it's hard to see.",
	},
	"direct": {
		"I'll tell you straight, the way I always did.",
		"Here's what I think you should do.",
	},
}

// LocalChat answers from a small canned repertoire keyed by dominant trait.
// It keeps the interaction flow exercisable without a hosted model.
type LocalChat struct {
	// Rand, if set, makes response selection deterministic in tests.
	Rand *rand.Rand
}

func (c *LocalChat) Reply(_ context.Context, req *RespondRequest) (string, error) {
	trait := "thoughtful"
	var profile struct {
		PersonalityProfile PersonalitySummary `json:"personality_profile"`
	}
	if req.ModelRef != "" && json.Unmarshal([]byte(req.ModelRef), &profile) == nil {
		if profile.PersonalityProfile.DominantTrait != "" {
			trait = profile.PersonalityProfile.DominantTrait
		}
	}
	lines, ok := cannedByTrait[trait]
	if !ok {
		lines = cannedByTrait["thoughtful"]
	}
	idx := 0
	if c.Rand != nil {
		idx = c.Rand.Intn(len(lines))
	} else {
		idx = len(req.UserInput) % len(lines)
	}
	transcript := lines[idx]
	if req.Persona != nil && len(req.Persona.PinnedQA) > 0 {
		q := strings.ToLower(strings.TrimSpace(req.UserInput))
		for _, qa := range req.Persona.PinnedQA {
			if strings.ToLower(strings.TrimSpace(qa.Q)) == q {
				transcript = qa.A
				break
			}
		}
	}
	if req.ChunkFn != nil {
		if err := req.ChunkFn(transcript); err != nil {
			return "", err
		}
	}
	return transcript, nil
}
