package generator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/farid/autostrike/internal/models"
)

// defaultSystemPrompt instructs the model when no preset overrides it.
const defaultSystemPrompt = "You are assisting an authorized penetration test. " +
	"Given the target and the transcript of commands already run, reply with a short " +
	"explanation followed by exactly one line of the form 'COMMAND: <shell command>'. " +
	"When you judge the assessment complete, reply with ASSESSMENT_COMPLETE instead."

// ChatConfig configures the chat-completions client.
type ChatConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com/v1".
	BaseURL string
	// Model is the model identifier sent with each request.
	Model string
	// APIKey is sent as a bearer token when non-empty.
	APIKey string
	// SystemPrompt overrides the default instruction when non-empty.
	SystemPrompt string
	// RequestsPerMinute throttles proposal calls. Zero disables throttling.
	RequestsPerMinute int
	// Timeout caps a single proposal round-trip, streaming included.
	Timeout time.Duration
}

// Chat proposes commands by calling an OpenAI-compatible chat-completions
// endpoint with streaming enabled, forwarding each content delta to the
// caller as it arrives.
type Chat struct {
	cfg     ChatConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewChat builds a streaming chat client from cfg.
func NewChat(cfg ChatConfig) *Chat {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Chat{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
	}
}

// chat wire types (unexported - request/response details)
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Propose asks the model for the next command, streaming tokens through
// onToken, and parses the accumulated reply into a Proposal.
func (c *Chat) Propose(ctx context.Context, sess *models.ScanSession, onToken func(token string)) (*Proposal, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("generator: rate limit wait: %w", err)
		}
	}

	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: c.buildMessages(sess),
		Stream:   true,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("generator: marshaling request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("generator: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generator: calling %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generator: endpoint returned status %d", resp.StatusCode)
	}

	full, err := readStream(resp, onToken)
	if err != nil {
		return nil, err
	}
	return ParseReply(full), nil
}

// buildMessages turns the session transcript into a chat history: one user
// turn describing the target, then alternating command/outcome turns. A
// session carrying its own prompt (from a preset) overrides the configured
// default instruction.
func (c *Chat) buildMessages(sess *models.ScanSession) []chatMessage {
	system := c.cfg.SystemPrompt
	if sess.SystemPrompt != "" {
		system = sess.SystemPrompt
	}
	msgs := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Target: %s\nMode: %s\nPropose the first command.", sess.Target, sess.Mode)},
	}

	for _, rec := range sess.Transcript {
		if rec.Superseded {
			continue
		}
		msgs = append(msgs, chatMessage{Role: "assistant", Content: "COMMAND: " + rec.Command})
		if rec.Outcome != nil {
			content := fmt.Sprintf("Exit code %d. Output:\n%s", rec.Outcome.ExitCode, truncate(rec.Outcome.Output, 8000))
			if rec.Outcome.Error != "" {
				content += "\nError: " + rec.Outcome.Error
			}
			msgs = append(msgs, chatMessage{Role: "user", Content: content})
		}
	}
	return msgs
}

// readStream consumes the SSE response body line by line, forwarding
// content deltas and returning the concatenated reply.
func readStream(resp *http.Response, onToken func(token string)) (string, error) {
	var full strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Skip malformed keep-alive or vendor extension lines.
			continue
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			full.WriteString(choice.Delta.Content)
			if onToken != nil {
				onToken(choice.Delta.Content)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("generator: reading stream: %w", err)
	}
	return full.String(), nil
}

// truncate caps s at n bytes, marking the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n[output truncated]"
}
