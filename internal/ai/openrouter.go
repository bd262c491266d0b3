package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OpenRouterProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	SiteURL string
	AppName string
	Client  *http.Client
}

func NewOpenRouterProvider(baseURL, apiKey, model, siteURL, appName string) *OpenRouterProvider {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	return &OpenRouterProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		SiteURL: siteURL,
		AppName: appName,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type openRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterChatReq struct {
	Model       string          `json:"model"`
	Messages    []openRouterMsg `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openRouterChatResp struct {
	Choices []struct {
		Message      openRouterMsg `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenRouterProvider) Chat(ctx context.Context, req Request) (*Result, error) {
	if p.Client == nil {
		return nil, permanentErr(errors.New("openrouter: http client is nil"))
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return nil, permanentErr(errors.New("openrouter: api key is required"))
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return nil, permanentErr(errors.New("openrouter: model is required"))
	}

	body := openRouterChatReq{
		Model:       model,
		Stream:      false,
		Messages:    toOpenRouterMsgs(req.Turns),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, permanentErr(err)
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, permanentErr(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	if p.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", p.SiteURL)
	}
	if p.AppName != "" {
		httpReq.Header.Set("X-Title", p.AppName)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, transientErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, classifyStatus(resp.StatusCode, fmt.Errorf("openrouter: %s", msg))
	}

	var decoded openRouterChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, transientErr(err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, classifyStatus(decoded.Error.Code, errors.New(decoded.Error.Message))
	}
	if len(decoded.Choices) == 0 {
		return nil, transientErr(errors.New("openrouter: empty response"))
	}

	choice := decoded.Choices[0]
	if choice.FinishReason == "content_filter" {
		return nil, permanentErr(errors.New("openrouter: response blocked by content filter"))
	}

	res := &Result{Text: choice.Message.Content}
	if decoded.Usage != nil {
		res.Usage = Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
			TotalTokens:      decoded.Usage.TotalTokens,
		}
	}
	return res, nil
}

func toOpenRouterMsgs(turns []Turn) []openRouterMsg {
	out := make([]openRouterMsg, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		if role == RoleModel {
			role = "assistant"
		}
		out = append(out, openRouterMsg{Role: role, Content: t.Content})
	}
	return out
}
