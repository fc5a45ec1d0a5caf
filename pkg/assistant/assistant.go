// Package assistant streams chat completions from an OpenAI-compatible
// endpoint. Replies are expected to end in a [[keyword, ...]] list.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ritzau/mindmap/pkg/logging"
	openai "github.com/sashabaranov/go-openai"
)

// SystemPrompt asks for a short answer followed by follow-up keywords
const SystemPrompt = `Always answer with a short informative sentence, followed by a list of comma-separated, specific, long-tail follow-up keywords.
The keywords should be in the format [[keyword1, keyword2, keyword3, ...]] with double square brackets.`

// ErrEmptyPrompt is returned for blank user input
var ErrEmptyPrompt = errors.New("empty prompt")

// Config configures the client
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Client is a streaming chat client that keeps the conversation history.
// It is safe for concurrent use.
type Client struct {
	client *openai.Client
	model  string

	mu      sync.Mutex
	history []openai.ChatCompletionMessage
	epoch   int // bumped by Reset
}

// New creates a client
func New(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
	}
}

// Stream sends prompt with the conversation so far and calls onChunk for
// every content delta. The user message is recorded before the request;
// the reply only once it completed. An error from onChunk aborts the
// stream and is returned.
func (c *Client) Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	c.mu.Lock()
	c.history = append(c.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	messages := make([]openai.ChatCompletionMessage, 0, len(c.history)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt})
	messages = append(messages, c.history...)
	epoch := c.epoch
	c.mu.Unlock()

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("start completion: %w", err)
	}
	defer stream.Close()

	var reply strings.Builder
	chunks := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return reply.String(), fmt.Errorf("receive completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply.WriteString(delta)
		chunks++
		if err := onChunk(delta); err != nil {
			return reply.String(), err
		}
	}

	c.mu.Lock()
	// a Reset during the stream starts a new conversation
	if c.epoch == epoch {
		c.history = append(c.history, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply.String()})
	}
	c.mu.Unlock()

	logging.Debug("completion finished", "model", c.model, "chunks", chunks, "bytes", reply.Len())
	return reply.String(), nil
}

// Reset forgets the conversation
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.epoch++
}

// History returns a copy of the conversation without the system prompt
func (c *Client) History() []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), c.history...)
}
