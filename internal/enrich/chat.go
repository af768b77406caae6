package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/alanyoungcy/prenews/internal/domain"
	"github.com/alanyoungcy/prenews/internal/platform/fetch"
)

// ChatConfig selects an OpenAI-compatible chat completions endpoint. A
// non-empty APIVersion switches to Azure OpenAI addressing
// (/openai/deployments/<model>/chat/completions?api-version=...) and the
// api-key header.
type ChatConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	APIVersion  string
	Temperature float64
	MaxTokens   int
}

// ChatClient generates articles through a chat completions API in JSON
// mode. Output is sanitized but not validated; callers decide whether to
// fall back.
type ChatClient struct {
	cfg  ChatConfig
	http *fetch.Client
}

func NewChatClient(cfg ChatConfig, client *fetch.Client) (*ChatClient, error) {
	if cfg.Endpoint == "" || cfg.Model == "" {
		return nil, fmt.Errorf("enrich: endpoint and model are required: %w", domain.ErrNotConfigured)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1500
	}
	if client == nil {
		client = fetch.NewClient()
	}
	return &ChatClient{cfg: cfg, http: client}, nil
}

func (c *ChatClient) Model() string { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model,omitempty"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate asks the model for an article about in.
func (c *ChatClient) Generate(ctx context.Context, in domain.ArticleInput) (domain.Article, error) {
	user, err := UserMessage(in)
	if err != nil {
		return domain.Article{}, err
	}

	body := chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	body.ResponseFormat.Type = "json_object"
	if c.cfg.APIVersion == "" {
		body.Model = c.cfg.Model
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.Article{}, fmt.Errorf("enrich: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(), bytes.NewReader(payload))
	if err != nil {
		return domain.Article{}, fmt.Errorf("enrich: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIVersion != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	} else if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	res, err := c.http.Do(ctx, req)
	if err != nil {
		return domain.Article{}, fmt.Errorf("enrich: chat completion: %w", err)
	}
	defer res.Response.Body.Close()

	raw, err := io.ReadAll(res.Response.Body)
	if err != nil {
		return domain.Article{}, fmt.Errorf("enrich: read response: %w", err)
	}

	var out chatResponse
	decodeErr := json.Unmarshal(raw, &out)
	if code := res.Response.StatusCode; code < 200 || code >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decodeErr == nil && out.Error != nil {
			msg = out.Error.Message
		}
		return domain.Article{}, fmt.Errorf("enrich: chat completion: HTTP %d after %d attempts: %s", code, res.Attempts, clip(msg, 256))
	}
	if decodeErr != nil {
		return domain.Article{}, fmt.Errorf("enrich: decode response: %w", decodeErr)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return domain.Article{}, errors.New("enrich: empty completion")
	}

	var a domain.Article
	if err := json.Unmarshal([]byte(out.Choices[0].Message.Content), &a); err != nil {
		return domain.Article{}, fmt.Errorf("enrich: decode article: %w", err)
	}
	return Sanitize(a, ""), nil
}

func (c *ChatClient) url() string {
	base := strings.TrimRight(c.cfg.Endpoint, "/")
	if c.cfg.APIVersion != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			base, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIVersion))
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

var _ domain.Enricher = (*ChatClient)(nil)
