// Package anthropic implements the accurate-provider capabilities on top of
// the Claude Messages API: chat completions (model.Client) and vision
// descriptions (model.Vision). It translates normalized requests into
// github.com/anthropics/anthropic-sdk-go calls and maps failures into
// model.ProviderError so the router can classify them.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fitcoach-ai/fitcoach/model"
)

// ProviderName identifies this adapter in provider errors and usage counters.
const ProviderName = "anthropic"

type (
	// MessagesClient captures the subset of the Anthropic SDK used by the
	// adapter. It is satisfied by *sdk.MessageService so tests can pass a mock.
	MessagesClient interface {
		New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
		NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
	}

	// Options configures the adapter.
	Options struct {
		// DefaultModel is the Claude model used when Request.Model is empty.
		DefaultModel string
		// MaxTokens is the completion cap applied when a request does not set
		// one. Anthropic requires a positive cap on every call.
		MaxTokens int
	}

	// Client implements model.Client and model.Vision on top of Claude.
	Client struct {
		msg      MessagesClient
		defModel string
		maxTok   int
	}
)

const defaultMaxTokens = 2048

// New builds an Anthropic-backed client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	maxTok := opts.MaxTokens
	if maxTok <= 0 {
		maxTok = defaultMaxTokens
	}
	return &Client{msg: msg, defModel: opts.DefaultModel, maxTok: maxTok}, nil
}

// NewFromAPIKey constructs a client using the default SDK HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Complete issues a non-streaming Messages.New request.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, wrapError("messages", err)
	}
	return translate(msg), nil
}

// Stream invokes Messages.NewStreaming and adapts incremental events.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapError("messages_stream", err)
	}
	return &streamer{stream: stream}, nil
}

// Describe produces a textual description of the image via an inline base64
// image block.
func (c *Client) Describe(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("anthropic: image payload is empty")
	}
	if prompt == "" {
		prompt = "Describe this image in detail."
	}
	data := base64.StdEncoding.EncodeToString(image)
	msg, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.defModel),
		MaxTokens: int64(c.maxTok),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64("image/jpeg", data),
				sdk.NewTextBlock(prompt),
			),
		},
	})
	if err != nil {
		return "", wrapError("describe", err)
	}
	resp := translate(msg)
	if resp.Content == "" {
		return "", errors.New("anthropic: empty vision response")
	}
	return resp.Content, nil
}

func (c *Client) prepare(req *model.Request) (*sdk.MessageNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defModel
	}
	maxTok := req.MaxTokens
	if maxTok <= 0 {
		maxTok = c.maxTok
	}
	conversation := make([]sdk.MessageParam, 0, len(req.Messages))
	system := make([]sdk.TextBlockParam, 0, 1)
	for _, m := range req.Messages {
		if m == nil || m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case model.RoleUser:
			conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case model.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	// Claude has no JSON response mode; structured-output tasks rely on the
	// prompt demanding a bare JSON object. The router validates the payload
	// against a schema downstream either way.
	if req.ResponseFormat == model.ResponseFormatJSON {
		system = append(system, sdk.TextBlockParam{
			Text: "Respond with a single valid JSON object and nothing else.",
		})
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTok),
		Messages:  conversation,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return &params, nil
}

func translate(msg *sdk.Message) *model.Response {
	resp := &model.Response{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			if resp.Content != "" {
				resp.Content += "\n"
			}
			resp.Content += block.Text
		}
	}
	resp.Usage = model.TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	return resp
}

// streamer adapts the Claude SSE stream to model.Streamer.
type streamer struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Recv returns the next text delta. It reports io.EOF when the stream ends.
func (s *streamer) Recv() (model.Chunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		delta := event.AsAny()
		if d, ok := delta.(sdk.ContentBlockDeltaEvent); ok {
			if text := d.Delta.Text; text != "" {
				return model.Chunk{Text: text}, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return model.Chunk{}, wrapError("messages_stream", err)
	}
	return model.Chunk{}, io.EOF
}

// Close releases the underlying SSE connection.
func (s *streamer) Close() error { return s.stream.Close() }

// wrapError converts SDK failures into classified provider errors.
func wrapError(op string, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := model.ClassifyHTTP(apiErr.StatusCode)
		return model.NewProviderError(ProviderName, op, apiErr.StatusCode, kind, "", err)
	}
	return model.NewProviderError(ProviderName, op, 0, model.ProviderErrorKindUnavailable, "", err)
}
