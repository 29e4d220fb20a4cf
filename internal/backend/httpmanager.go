package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"overseer/internal/logging"
	"overseer/internal/mission"
	"overseer/internal/state"
)

const managerSystemPrompt = "You are the planning manager of an autonomous coding agent. " +
	"Be concise. Ground every assessment only in the provided mission state. " +
	"When asked for JSON, reply with a single JSON object and nothing else."

// HTTPManager implements Manager against a chat-completions HTTP API.
type HTTPManager struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	mu          sync.Mutex
	lastRequest time.Time
	usage       state.TokenUsage
}

// HTTPManagerConfig holds configuration for the HTTP manager client.
type HTTPManagerConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// DefaultHTTPManagerConfig returns sensible defaults.
func DefaultHTTPManagerConfig(apiKey string) HTTPManagerConfig {
	return HTTPManagerConfig{
		APIKey:  apiKey,
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
		Timeout: 120 * time.Second,
	}
}

// NewHTTPManager creates a manager client with the given config, applying
// defaults for unset fields.
func NewHTTPManager(cfg HTTPManagerConfig) *HTTPManager {
	defaults := DefaultHTTPManagerConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &HTTPManager{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// chatRequest represents the API request structure.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// chatMessage represents a message in the conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the API response structure.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// complete sends one chat request and classifies failures for the retry
// policy: 429 -> RateLimitError, 5xx and network errors -> TransientError,
// other non-200 -> permanent.
func (m *HTTPManager) complete(ctx context.Context, userPrompt string) (string, error) {
	if m.apiKey == "" {
		return "", fmt.Errorf("manager API key not configured")
	}

	// Keep at least 600ms between requests.
	m.mu.Lock()
	elapsed := time.Since(m.lastRequest)
	if elapsed < 600*time.Millisecond {
		time.Sleep(600*time.Millisecond - elapsed)
	}
	m.lastRequest = time.Now()
	m.mu.Unlock()

	reqBody := chatRequest{
		Model: m.model,
		Messages: []chatMessage{
			{Role: "system", Content: managerSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   4096,
		Temperature: 0.1,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransientError{Provider: "manager-http", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{Provider: "manager-http", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := time.Duration(0)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return "", &RateLimitError{Provider: "manager-http", RetryAfter: retryAfter, RawResponse: string(body)}
	case resp.StatusCode >= 500:
		return "", &TransientError{Provider: "manager-http", Err: fmt.Errorf("status %d: %s", resp.StatusCode, string(body))}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("manager API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", &ProtocolError{Provider: "manager-http", Detail: "unparseable response body"}
	}
	if cr.Error != nil {
		return "", fmt.Errorf("manager API error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", &ProtocolError{Provider: "manager-http", Detail: "no completion returned"}
	}

	m.mu.Lock()
	m.usage.Add(state.TokenUsage{
		Prompt:     cr.Usage.PromptTokens,
		Completion: cr.Usage.CompletionTokens,
		Total:      cr.Usage.TotalTokens,
	})
	m.mu.Unlock()

	logging.ManagerDebug("Manager completion: %d prompt + %d completion tokens",
		cr.Usage.PromptTokens, cr.Usage.CompletionTokens)
	return strings.TrimSpace(cr.Choices[0].Message.Content), nil
}

// Usage returns the cumulative token usage reported by the backend.
func (m *HTTPManager) Usage() state.TokenUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// Analyze assesses the current state of the mission and session.
func (m *HTTPManager) Analyze(ctx context.Context, ms *mission.Mission, s *state.SessionState, p mission.Progress) (*Analysis, error) {
	timer := logging.StartTimer(logging.CategoryManager, "Analyze")
	defer timer.Stop()

	reply, err := m.complete(ctx, buildAnalyzePrompt(ms, s, p))
	if err != nil {
		return nil, err
	}
	return parseAnalysis("manager-http", reply)
}

// Plan produces the task description handed to the Executor.
func (m *HTTPManager) Plan(ctx context.Context, analysis *Analysis, criterion *mission.DoDCriterion, s *state.SessionState) (string, error) {
	timer := logging.StartTimer(logging.CategoryManager, "Plan")
	defer timer.Stop()

	reply, err := m.complete(ctx, buildPlanPrompt(analysis, criterion, s))
	if err != nil {
		return "", err
	}
	action := strings.TrimSpace(reply)
	if action == "" {
		return "", &ProtocolError{Provider: "manager-http", Detail: "empty action plan"}
	}
	return action, nil
}

// Validate decides whether the criterion may now be marked complete.
func (m *HTTPManager) Validate(ctx context.Context, criterion *mission.DoDCriterion, result *ExecutionResult, s *state.SessionState) (*Validation, error) {
	timer := logging.StartTimer(logging.CategoryManager, "Validate")
	defer timer.Stop()

	reply, err := m.complete(ctx, buildValidatePrompt(criterion, result, s))
	if err != nil {
		return nil, err
	}
	return parseValidation("manager-http", reply)
}

// Recover proposes a retry course for a failed iteration.
func (m *HTTPManager) Recover(ctx context.Context, iterErr error, s *state.SessionState) (*Recovery, error) {
	timer := logging.StartTimer(logging.CategoryManager, "Recover")
	defer timer.Stop()

	reply, err := m.complete(ctx, buildRecoverPrompt(iterErr, s))
	if err != nil {
		return nil, err
	}
	return parseRecovery("manager-http", reply)
}
