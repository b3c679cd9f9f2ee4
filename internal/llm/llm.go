// Package llm exposes structured generation against a large language model.
// The pipeline only ever asks for JSON conforming to a schema; transport
// failures, empty responses, malformed JSON and schema violations are all
// upstream errors and are not retried at this layer.
package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/koa-group/doc-pipeline/internal/apperr"
)

// Client generates a structured object from a prompt. The response is
// validated against schema before being decoded into out.
type Client interface {
	GenerateStructured(ctx context.Context, prompt string, schema *jsonschema.Schema, out any) error
}

const systemText = "Você extrai dados estruturados de documentos imobiliários e financeiros (pt-BR). " +
	"Responda somente com JSON válido seguindo o schema pedido. Use null para campos não encontrados."

// AnthropicClient implements Client on the official SDK.
type AnthropicClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// Option customizes the Anthropic client.
type Option func(*[]option.RequestOption)

// WithTimeout bounds each request including SDK-internal retries.
func WithTimeout(d time.Duration) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithRequestTimeout(d))
	}
}

// NewAnthropic builds a client for the given API key and model.
func NewAnthropic(apiKey, model string, opts ...Option) *AnthropicClient {
	sdkOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, opt := range opts {
		opt(&sdkOpts)
	}
	return &AnthropicClient{
		client:    sdk.NewClient(sdkOpts...),
		model:     model,
		maxTokens: 16384,
	}
}

// GenerateStructured issues a single message request and parses the reply.
func (c *AnthropicClient) GenerateStructured(ctx context.Context, prompt string, schema *jsonschema.Schema, out any) error {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemText},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return apperr.Upstream(err, "llm: create message")
	}

	var raw strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw.WriteString(block.Text)
		}
	}

	zap.L().Debug("llm response",
		zap.String("model", c.model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return DecodeValidated(raw.String(), schema, out)
}

// DecodeValidated parses model output as JSON, validates it against schema
// and decodes it into out.
func DecodeValidated(raw string, schema *jsonschema.Schema, out any) error {
	raw = stripFences(raw)
	if raw == "" {
		return apperr.Newf(apperr.KindUpstream, "llm: empty response")
	}

	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return apperr.Upstream(err, "llm: response is not valid JSON")
	}
	if schema != nil {
		if err := schema.Validate(generic); err != nil {
			return apperr.Upstream(err, "llm: response violates schema")
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return apperr.Upstream(err, "llm: decode response")
	}
	return nil
}

// stripFences removes a ```json ... ``` wrapper some models insist on.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// MustCompileSchema compiles an inline JSON schema document. Panics on
// malformed schemas, which are programmer errors.
func MustCompileSchema(name, doc string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(doc)); err != nil {
		panic(eris.Wrapf(err, "llm: add schema %s", name))
	}
	return c.MustCompile(name)
}
