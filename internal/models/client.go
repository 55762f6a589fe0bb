package models

import (
	"context"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Completer is the narrow completion surface the generators, entry resolver,
// and dialogue manager consume. Tests stub it.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Client adapts an eino chat model to the Completer surface.
type Client struct {
	model model.ToolCallingChatModel
}

// NewClient wraps a chat model.
func NewClient(m model.ToolCallingChatModel) *Client {
	return &Client{model: m}
}

// Complete sends one system+user exchange and returns the assistant text.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c == nil || c.model == nil {
		return "", ErrNotConfigured
	}
	var messages []*schema.Message
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, schema.UserMessage(user))

	resp, err := c.model.Generate(ctx, messages)
	if err != nil {
		return "", HandleError(err)
	}
	return resp.Content, nil
}

// Required reports whether a configured model is mandatory. Without it the
// service refuses generation instead of degrading silently.
func Required() bool {
	v := strings.ToLower(os.Getenv("LLM_REQUIRED"))
	if v == "" {
		return true
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// DefaultCompleter builds a Completer from the registry's default provider.
func DefaultCompleter(ctx context.Context, registry *Registry) (Completer, error) {
	m, err := registry.Default(ctx)
	if err != nil {
		return nil, err
	}
	return NewClient(m), nil
}
