package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when no persona file exists for the id.
var ErrNotFound = errors.New("persona not found")

// Style describes how a persona speaks.
type Style struct {
	Tone     string   `json:"tone"`
	Register string   `json:"register"`
	Quirks   []string `json:"quirks,omitempty"`
}

// QA is a pinned question/answer pair answered verbatim.
type QA struct {
	Q string `json:"q"`
	A string `json:"a"`
}

// Persona is a validated avatar personality configuration. It replaces the
// free-form dictionaries of earlier persona profiles with an explicit
// schema checked at load time.
type Persona struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name"`
	Style       Style    `json:"style"`
	PinnedQA    []QA     `json:"pinned_qa,omitempty"`
	SafeTopics  []string `json:"safe_topics,omitempty"`
	AvoidTopics []string `json:"avoid_topics,omitempty"`
	// Refusals are stock lines used when a conversation drifts into an
	// avoided topic.
	Refusals []string `json:"refusals,omitempty"`
	TTSVoice string   `json:"tts_voice,omitempty"`
}

// Validate checks the loaded persona for schema completeness.
func (p *Persona) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("persona id is required")
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("persona %s: display_name is required", p.ID)
	}
	if strings.TrimSpace(p.Style.Tone) == "" {
		return fmt.Errorf("persona %s: style.tone is required", p.ID)
	}
	switch p.Style.Register {
	case "casual", "neutral", "formal":
	default:
		return fmt.Errorf("persona %s: style.register must be casual, neutral or formal", p.ID)
	}
	for i, qa := range p.PinnedQA {
		if strings.TrimSpace(qa.Q) == "" || strings.TrimSpace(qa.A) == "" {
			return fmt.Errorf("persona %s: pinned_qa[%d] needs both q and a", p.ID, i)
		}
	}
	return nil
}

// Registry loads persona configurations from a directory of JSON files
// (<id>.json) and caches them.
type Registry struct {
	dir   string
	mu    sync.RWMutex
	cache map[string]*Persona
}

func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, cache: make(map[string]*Persona)}
}

// Load returns the persona for id, reading and validating it on first use.
func (r *Registry) Load(id string) (*Persona, error) {
	if strings.ContainsAny(id, `/\.`) {
		return nil, ErrNotFound
	}
	r.mu.RLock()
	if p, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return p, nil
	}
	r.mu.RUnlock()

	raw, err := os.ReadFile(filepath.Join(r.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read persona %s: %w", id, err)
	}
	var p Persona
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode persona %s: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cache[id] = &p
	r.mu.Unlock()
	return &p, nil
}

// List returns the ids of every persona file in the registry directory.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list personas: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
