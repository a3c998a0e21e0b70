package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	logx "undangin/pkg/logx"
)

const defaultModel = "claude-3-5-haiku-latest"

const systemPrompt = `You classify a wedding guest's WhatsApp reply to an invitation.
Answer with exactly one word: accepted, declined, question, or unknown.
The reply is usually Indonesian or English. Do not explain.`

// Model classifies replies with the Anthropic Messages API. Calls are
// throttled by a local limiter so a burst of incoming webhooks cannot
// hammer the API.
type Model struct {
	client  *anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
	log     logx.Logger
}

type ModelOption func(*Model)

func WithModelName(name string) ModelOption {
	return func(m *Model) {
		if name != "" {
			m.model = anthropic.Model(name)
		}
	}
}

func WithLimiter(l *rate.Limiter) ModelOption {
	return func(m *Model) { m.limiter = l }
}

func NewModel(apiKey string, log logx.Logger, opts ...ModelOption) *Model {
	client := anthropic.NewClient(option.WithAuthToken(apiKey))
	return NewModelWithClient(&client, log, opts...)
}

// NewModelWithClient accepts a pre-built client, mainly for tests pointing
// at a local server.
func NewModelWithClient(client *anthropic.Client, log logx.Logger, opts ...ModelOption) *Model {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Model{
		client:  client,
		model:   defaultModel,
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
		log:     log,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Model) Classify(ctx context.Context, text string) (Intent, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return IntentUnknown, err
		}
	}

	resp, err := m.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     m.model,
		MaxTokens: 8,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return IntentUnknown, fmt.Errorf("classify reply: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	intent := parseIntent(sb.String())
	m.log.Debug("reply classified",
		logx.String("intent", string(intent)),
		logx.Int64("input_tokens", resp.Usage.InputTokens),
		logx.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return intent, nil
}

func parseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentAccepted:
		return IntentAccepted
	case IntentDeclined:
		return IntentDeclined
	case IntentQuestion:
		return IntentQuestion
	default:
		return IntentUnknown
	}
}
