// Package judge calls an LLM to evaluate trace text against natural
// language instructions, backing the llm_boolean and llm_score rules
// and the moderation-based toxicity check.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Usage reports token consumption of one judge call, for cost
// attribution on check results.
type Usage struct {
	Vendor           string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Provider is the LLM surface used by the check engine.
type Provider interface {
	// JudgeBoolean asks whether the instruction holds for the subject
	// text, answering strictly yes or no.
	JudgeBoolean(ctx context.Context, model, instruction, subject string) (bool, Usage, error)

	// JudgeScore rates the subject text against the instruction on
	// [0, 1].
	JudgeScore(ctx context.Context, model, instruction, subject string) (float64, Usage, error)

	// Moderate returns per-category scores on [0, 1] for the text.
	Moderate(ctx context.Context, text string) (map[string]float64, error)
}

// OpenAIProvider implements Provider against an OpenAI-compatible API.
type OpenAIProvider struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAIProvider creates an OpenAI-compatible judge provider.
// baseURL defaults to the OpenAI API when empty; defaultModel is used
// when a rule does not name one.
func NewOpenAIProvider(baseURL, apiKey, defaultModel string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if defaultModel == "" {
		defaultModel = "gpt-3.5-turbo"
	}
	return &OpenAIProvider{
		baseURL:      baseURL,
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
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
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) complete(ctx context.Context, model, system, user string) (string, Usage, error) {
	if model == "" {
		model = p.defaultModel
	}
	reqBody, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: 10,
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("judge: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", Usage{}, fmt.Errorf("judge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, fmt.Errorf("judge: send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, fmt.Errorf("judge: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", Usage{}, fmt.Errorf("judge: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return "", Usage{}, fmt.Errorf("judge: provider error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, fmt.Errorf("judge: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if len(result.Choices) == 0 {
		return "", Usage{}, fmt.Errorf("judge: empty completion returned")
	}

	usage := Usage{
		Vendor:           "openai",
		Model:            model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), usage, nil
}

func (p *OpenAIProvider) JudgeBoolean(ctx context.Context, model, instruction, subject string) (bool, Usage, error) {
	system := "You are an evaluator. Answer strictly with the single word true or false, nothing else.\n\nCondition: " + instruction
	answer, usage, err := p.complete(ctx, model, system, subject)
	if err != nil {
		return false, usage, err
	}
	switch strings.ToLower(strings.Trim(answer, " .\"'")) {
	case "true", "yes":
		return true, usage, nil
	case "false", "no":
		return false, usage, nil
	}
	return false, usage, fmt.Errorf("judge: unparseable boolean answer %q", answer)
}

func (p *OpenAIProvider) JudgeScore(ctx context.Context, model, instruction, subject string) (float64, Usage, error) {
	system := "You are an evaluator. Rate how well the condition holds for the user's text on a scale from 0.0 to 1.0. Answer strictly with the number, nothing else.\n\nCondition: " + instruction
	answer, usage, err := p.complete(ctx, model, system, subject)
	if err != nil {
		return 0, usage, err
	}
	score, err := strconv.ParseFloat(strings.Trim(answer, " \"'"), 64)
	if err != nil {
		return 0, usage, fmt.Errorf("judge: unparseable score answer %q", answer)
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, usage, nil
}

type moderationRequest struct {
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (p *OpenAIProvider) Moderate(ctx context.Context, text string) (map[string]float64, error) {
	reqBody, err := json.Marshal(moderationRequest{Input: text})
	if err != nil {
		return nil, fmt.Errorf("judge: marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/moderations", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("judge: create moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("judge: send moderation request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("judge: read moderation response: %w", err)
	}

	var result moderationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("judge: unmarshal moderation response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("judge: provider error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("judge: unexpected moderation status %d: %s", resp.StatusCode, string(body))
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("judge: empty moderation result")
	}
	return result.Results[0].CategoryScores, nil
}

var _ Provider = (*OpenAIProvider)(nil)
