package capability

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DIDClient renders talking-head videos through the D-ID talks API: create a
// talk, poll until done, download the result.
type DIDClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	// poll interval is a field so tests can shrink it
	pollEvery time.Duration
}

func NewDIDClient(baseURL, apiKey string, timeout time.Duration) *DIDClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &DIDClient{
		baseURL:   baseURL,
		apiKey:    apiKey,
		http:      &http.Client{Timeout: timeout},
		pollEvery: 3 * time.Second,
	}
}

// CreateTalk submits the portrait and synthesized audio and returns the
// finished MP4. The context bounds the whole create/poll/download cycle;
// cancellation stops polling immediately.
func (c *DIDClient) CreateTalk(ctx context.Context, portrait, audio []byte, script string) ([]byte, error) {
	payload := map[string]any{
		"source_url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(portrait),
		"config": map[string]any{
			"fluent":    true,
			"pad_audio": 0.0,
			"stitch":    true,
		},
	}
	if len(audio) > 0 {
		payload["script"] = map[string]any{
			"type":      "audio",
			"audio_url": "data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString(audio),
		}
	} else {
		payload["script"] = map[string]any{"type": "text", "input": script}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, External("d-id", "create talk", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/talks", bytes.NewReader(body))
	if err != nil {
		return nil, External("d-id", "create talk", err)
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, External("d-id", "create talk", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, External("d-id", "create talk", fmt.Errorf("status %d", resp.StatusCode))
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, External("d-id", "create talk", err)
	}
	if created.ID == "" {
		return nil, External("d-id", "create talk", fmt.Errorf("no talk id in response"))
	}

	videoURL, err := c.pollForResult(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	return c.download(ctx, videoURL)
}

func (c *DIDClient) pollForResult(ctx context.Context, talkID string) (string, error) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", External("d-id", "poll talk", ctx.Err())
		case <-ticker.C:
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/talks/"+talkID, nil)
		if err != nil {
			return "", External("d-id", "poll talk", err)
		}
		c.setHeaders(req)
		resp, err := c.http.Do(req)
		if err != nil {
			return "", External("d-id", "poll talk", err)
		}
		var status struct {
			Status    string `json:"status"`
			ResultURL string `json:"result_url"`
			Error     any    `json:"error"`
		}
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			return "", External("d-id", "poll talk", err)
		}
		switch status.Status {
		case "done":
			if status.ResultURL == "" {
				return "", External("d-id", "poll talk", fmt.Errorf("done without result url"))
			}
			return status.ResultURL, nil
		case "error", "rejected":
			return "", External("d-id", "poll talk", fmt.Errorf("talk failed: %v", status.Error))
		}
	}
}

func (c *DIDClient) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, External("d-id", "download video", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, External("d-id", "download video", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, External("d-id", "download video", fmt.Errorf("status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

func (c *DIDClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Basic "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}
