// Thin adapter over an OpenAI-compatible chat completion API. The provider
// is an external collaborator; this wrapper only covers the two calls the
// tools need.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/ehudso7/GhostTools/app/config"
	"github.com/ehudso7/GhostTools/app/models"
)

const (
	defaultOpenAIURL   = "https://api.openai.com"
	defaultOpenAIModel = "gpt-4o-mini"
)

// AIClient generates content for the paid tools.
type AIClient interface {
	GenerateProductDescription(ctx context.Context, req models.DescriptionRequest) (string, error)
}

type OpenAIClient struct {
	apiKey  string
	baseURL string
	model   string
	httpc   *http.Client
}

func NewOpenAIClient(cfg config.OpenAIConfig) *OpenAIClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		model:   model,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OpenAIClient) GenerateProductDescription(ctx context.Context, req models.DescriptionRequest) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("openai api key not configured")
	}

	prompt := fmt.Sprintf(
		"Write a compelling product description.\nProduct: %s\nFeatures: %s\nTarget audience: %s\nTone: %s",
		req.ProductName, req.ProductFeatures, req.TargetAudience, req.Tone,
	)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a marketing copywriter for e-commerce product pages."},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return "", fmt.Errorf("openai error: %s", out.Error.Message)
		}
		return "", fmt.Errorf("openai error: status %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

type transcriptionResponse struct {
	Text  string `json:"text"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// TranscribeEpisode downloads the episode audio and sends it to the
// transcription endpoint. Audio is streamed straight from the download into
// the upload body.
func (c *OpenAIClient) TranscribeEpisode(ctx context.Context, episodeURL string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("openai api key not configured")
	}

	audioReq, err := http.NewRequestWithContext(ctx, http.MethodGet, episodeURL, nil)
	if err != nil {
		return "", err
	}
	audioResp, err := c.httpc.Do(audioReq)
	if err != nil {
		return "", fmt.Errorf("failed to fetch episode audio: %w", err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("episode download returned status %d", audioResp.StatusCode)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", "episode.mp3")
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, audioResp.Body); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := mw.WriteField("model", "whisper-1"); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", pr)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil {
			return "", fmt.Errorf("openai error: %s", out.Error.Message)
		}
		return "", fmt.Errorf("openai error: status %d", resp.StatusCode)
	}
	if out.Text == "" {
		return "", errors.New("openai returned empty transcript")
	}
	return out.Text, nil
}
