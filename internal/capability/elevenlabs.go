package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// ElevenLabsClient talks to the ElevenLabs REST API for voice cloning and
// speech synthesis.
type ElevenLabsClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewElevenLabsClient(baseURL, apiKey string, timeout time.Duration) *ElevenLabsClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ElevenLabsClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Clone creates a voice clone from one audio sample and returns the provider
// voice id.
func (c *ElevenLabsClient) Clone(ctx context.Context, name string, audio []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("name", name); err != nil {
		return "", External("elevenlabs", "clone", err)
	}
	part, err := mw.CreateFormFile("files", "sample.wav")
	if err != nil {
		return "", External("elevenlabs", "clone", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", External("elevenlabs", "clone", err)
	}
	if err := mw.Close(); err != nil {
		return "", External("elevenlabs", "clone", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/voices/add", &body)
	if err != nil {
		return "", External("elevenlabs", "clone", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", External("elevenlabs", "clone", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", External("elevenlabs", "clone", fmt.Errorf("status %d", resp.StatusCode))
	}
	var out struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", External("elevenlabs", "clone", err)
	}
	if out.VoiceID == "" {
		return "", External("elevenlabs", "clone", fmt.Errorf("no voice id in response"))
	}
	return out.VoiceID, nil
}

// Synthesize renders text with the cloned voice, returning MP3 bytes.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, voiceRef, text string) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": "eleven_multilingual_v2",
	})
	if err != nil {
		return nil, External("elevenlabs", "synthesize", err)
	}
	url := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, voiceRef)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, External("elevenlabs", "synthesize", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, External("elevenlabs", "synthesize", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, External("elevenlabs", "synthesize", fmt.Errorf("status %d", resp.StatusCode))
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, External("elevenlabs", "synthesize", err)
	}
	return audio, nil
}
