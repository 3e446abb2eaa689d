package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient is the client for interacting with Google's Gemini models.
type GeminiClient struct {
	config   *Config
	client   *genai.Client
	model    *genai.GenerativeModel
	throttle throttle
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient creates a new client for the Gemini API via the official SDK.
func NewGeminiClient(ctx context.Context, config *Config) (*GeminiClient, error) {
	if config == nil || config.Model == "" {
		return nil, errors.New("gemini client requires a model")
	}
	if config.APIKey == "" {
		return nil, errors.New("gemini API key cannot be empty")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := client.GenerativeModel(config.Model)
	return &GeminiClient{
		config:   config,
		client:   client,
		model:    model,
		throttle: newThrottle(config.MaxRPS),
	}, nil
}

// Close releases the underlying SDK connection.
func (c *GeminiClient) Close() error {
	return c.client.Close()
}

// GetResponse performs a standard, blocking request to the Gemini API.
func (c *GeminiClient) GetResponse(ctx context.Context, messages []Message) *Response {
	if err := c.throttle.wait(ctx); err != nil {
		return errorResponse(c.config.Model, err)
	}

	chat, prompt := c.prepareChat(messages)
	resp, err := chat.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		return errorResponse(c.config.Model, fmt.Errorf("gemini API call failed: %w", err))
	}

	content, err := geminiText(resp)
	if err != nil {
		return errorResponse(c.config.Model, err)
	}
	return &Response{
		Role:      RoleAssistant,
		Content:   content,
		Model:     c.config.Model,
		CreatedAt: time.Now(),
		Done:      true,
	}
}

// GetResponseStream performs a streaming request to the Gemini API.
func (c *GeminiClient) GetResponseStream(ctx context.Context, messages []Message) <-chan *Response {
	out := make(chan *Response)

	go func() {
		defer close(out)

		if err := c.throttle.wait(ctx); err != nil {
			trySend(ctx, out, errorResponse(c.config.Model, err))
			return
		}

		chat, prompt := c.prepareChat(messages)
		iter := chat.SendMessageStream(ctx, genai.Text(prompt))
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				trySend(ctx, out, errorResponse(c.config.Model, fmt.Errorf("gemini stream error: %w", err)))
				return
			}
			content, err := geminiText(resp)
			if err != nil {
				continue
			}
			delta := &Response{
				Role:      RoleAssistant,
				Content:   content,
				Model:     c.config.Model,
				CreatedAt: time.Now(),
			}
			if !trySend(ctx, out, delta) {
				return
			}
		}
		trySend(ctx, out, &Response{Role: RoleAssistant, Model: c.config.Model, CreatedAt: time.Now(), Done: true})
	}()

	return out
}

// prepareChat applies generation settings and converts the conversation into
// the SDK's chat-history shape. The last message becomes the new prompt; the
// leading system message rides along as a system instruction.
func (c *GeminiClient) prepareChat(messages []Message) (*genai.ChatSession, string) {
	if c.config.Temperature != nil {
		c.model.SetTemperature(*c.config.Temperature)
	}
	c.model.SetMaxOutputTokens(defaultMaxTokens)

	history := messages
	if len(history) > 0 && history[0].Role == RoleSystem {
		c.model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(history[0].Content)},
		}
		history = history[1:]
	}

	prompt := ""
	if len(history) > 0 {
		prompt = history[len(history)-1].Content
		history = history[:len(history)-1]
	}

	chat := c.model.StartChat()
	for _, msg := range history {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		chat.History = append(chat.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return chat, prompt
}

// geminiText flattens a response's candidate parts into plain text.
func geminiText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no content returned from Gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String(), nil
}
