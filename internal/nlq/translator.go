// ABOUTME: Language-model client that translates free text into candidate queries.
// ABOUTME: Talks to any OpenAI-compatible chat endpoint (Ollama serves one at /v1).

package nlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Upstream errors for the language-model collaborator. Timeouts are surfaced
// distinctly and never conflated with gate rejections.
var (
	ErrUpstreamTimeout     = errors.New("language model timed out")
	ErrUpstreamUnavailable = errors.New("language model unavailable")
)

// systemPrompt constrains the model to the users table vocabulary and a strict
// JSON contract. The response is still treated as untrusted; the gate in
// gate.go decides what executes.
const systemPrompt = `You translate natural-language questions about a user directory into a JSON query description.

The only queryable entity is the "users" table with columns: id, username, email, first_name, last_name.

Respond with exactly one JSON object and nothing else:
{"select": [columns], "where": [{"column": c, "op": o, "value": v}], "order_by": column, "descending": bool, "limit": n}

Operators: eq, ne, lt, le, gt, ge, contains. Omit fields you do not need.
Only retrieval is possible. If the request asks to add, change, or delete data,
or asks about anything other than the users table, respond with:
{"refuse": "read-only"}`

// ChatClient is the slice of the OpenAI client the translator uses.
// *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Translator obtains candidate queries from the language-model collaborator.
type Translator struct {
	client  ChatClient
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTranslator creates a translator against an OpenAI-compatible endpoint.
func NewTranslator(baseURL, apiKey, model string, timeout time.Duration, logger *slog.Logger) *Translator {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &Translator{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		logger:  logger.With("component", "nlq"),
	}
}

// NewTranslatorWithClient creates a translator with an injected client, for tests.
func NewTranslatorWithClient(client ChatClient, model string, timeout time.Duration, logger *slog.Logger) *Translator {
	return &Translator{client: client, model: model, timeout: timeout, logger: logger.With("component", "nlq")}
}

// Translate sends the free text to the model and returns the raw candidate.
// The call carries a bounded timeout and is abandoned if the caller's context
// is cancelled.
func (t *Translator) Translate(ctx context.Context, freeText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: freeText},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", classifyUpstreamErr(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", ErrUpstreamUnavailable)
	}

	t.logger.Debug("candidate received", "model", t.model, "bytes", len(resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content, nil
}

// Ping reports whether the model endpoint is reachable.
func (t *Translator) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if _, err := t.client.ListModels(ctx); err != nil {
		return classifyUpstreamErr(err)
	}
	return nil
}

// classifyUpstreamErr maps transport failures onto the upstream error kinds.
func classifyUpstreamErr(err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
