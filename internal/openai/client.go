package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedReply marks a 200 response missing the expected payload field.
var ErrMalformedReply = errors.New("malformed backend reply")

// Client talks to an OpenAI-protocol backend: chat completions, image
// generation and the responses endpoint for vision input. One attempt per
// call; the HTTP client timeout bounds every request.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(apiKey, baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion sends the prompt as a single user message and returns the
// first choice's content.
func (c *Client) ChatCompletion(ctx context.Context, model, prompt string) (string, error) {
	payload := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var parsed chatResponse
	if err := c.post(ctx, "/v1/chat/completions", payload, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("chat completion: %w: empty choices", ErrMalformedReply)
	}
	return parsed.Choices[0].Message.Content, nil
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// GenerateImage returns the URL of one generated image.
func (c *Client) GenerateImage(ctx context.Context, model, prompt, size string) (string, error) {
	payload := imageRequest{
		Model:  model,
		Prompt: prompt,
		N:      1,
		Size:   size,
	}

	var parsed imageResponse
	if err := c.post(ctx, "/v1/images/generations", payload, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return "", fmt.Errorf("image generation: %w: empty data", ErrMalformedReply)
	}
	return parsed.Data[0].URL, nil
}

type visionContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

type visionInput struct {
	Role    string          `json:"role"`
	Content []visionContent `json:"content"`
}

type visionRequest struct {
	Model string        `json:"model"`
	Input []visionInput `json:"input"`
}

type visionResponse struct {
	OutputText string `json:"output_text"`
}

// TransformImage combines a hosted image with a text instruction through
// the responses endpoint and returns the output text.
func (c *Client) TransformImage(ctx context.Context, model, prompt, imageURL string) (string, error) {
	payload := visionRequest{
		Model: model,
		Input: []visionInput{{
			Role: "user",
			Content: []visionContent{
				{Type: "input_text", Text: prompt},
				{Type: "input_image", ImageURL: imageURL},
			},
		}},
	}

	var parsed visionResponse
	if err := c.post(ctx, "/v1/responses", payload, &parsed); err != nil {
		return "", err
	}
	if parsed.OutputText == "" {
		return "", fmt.Errorf("image transform: %w: empty output_text", ErrMalformedReply)
	}
	return parsed.OutputText, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Error("backend call failed", "status", resp.StatusCode, "path", path, "body", truncateBody(rawBody))
		}
		return fmt.Errorf("backend error: status=%d path=%s body=%s", resp.StatusCode, path, truncateBody(rawBody))
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w: %v (body=%s)", ErrMalformedReply, err, truncateBody(rawBody))
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
