// Package openai implements the fast-provider capabilities on top of the
// OpenAI API: chat completions (model.Client), Whisper transcription
// (model.SpeechToText), vision descriptions (model.Vision), and text
// embeddings (model.Embedder). It translates normalized requests into
// github.com/openai/openai-go calls and maps failures into model.ProviderError
// so the router can classify them.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/fitcoach-ai/fitcoach/model"
)

// ProviderName identifies this adapter in provider errors and usage counters.
const ProviderName = "openai"

type (
	// ChatService captures the subset of the SDK chat API used by the adapter.
	// It is satisfied by sdk.Client.Chat.Completions so tests can substitute a
	// mock.
	ChatService interface {
		New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// AudioService captures the subset of the SDK transcription API used here.
	AudioService interface {
		New(ctx context.Context, body sdk.AudioTranscriptionNewParams, opts ...option.RequestOption) (*sdk.Transcription, error)
	}

	// EmbeddingService captures the subset of the SDK embeddings API used here.
	EmbeddingService interface {
		New(ctx context.Context, body sdk.EmbeddingNewParams, opts ...option.RequestOption) (*sdk.CreateEmbeddingResponse, error)
	}

	// Options configures the adapter.
	Options struct {
		// Chat is the SDK chat completions service. Required.
		Chat ChatService
		// Audio is the SDK transcriptions service. Required for Transcribe.
		Audio AudioService
		// Embeddings is the SDK embeddings service. Required for embedding.
		Embeddings EmbeddingService
		// DefaultModel is used when Request.Model is empty.
		DefaultModel string
		// VisionModel is the model used for image descriptions.
		VisionModel string
		// EmbeddingModel is the text embedding model identifier.
		EmbeddingModel string
		// EmbeddingDimensions reduces the embedding width when > 0. The
		// reference deployment uses 384 so vectors stay comparable with the
		// original sentence-transformer corpus.
		EmbeddingDimensions int
		// TranscriptionModel is the speech-to-text model (whisper-1 default).
		TranscriptionModel string
	}

	// Client implements model.Client, model.SpeechToText, model.Vision and
	// model.Embedder via the OpenAI API.
	Client struct {
		chat       ChatService
		audio      AudioService
		embeddings EmbeddingService
		defModel   string
		visModel   string
		embModel   string
		embDims    int
		sttModel   string
	}
)

// New builds an OpenAI-backed client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Chat == nil {
		return nil, errors.New("openai: chat service is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	visModel := opts.VisionModel
	if visModel == "" {
		visModel = opts.DefaultModel
	}
	sttModel := opts.TranscriptionModel
	if sttModel == "" {
		sttModel = "whisper-1"
	}
	return &Client{
		chat:       opts.Chat,
		audio:      opts.Audio,
		embeddings: opts.Embeddings,
		defModel:   opts.DefaultModel,
		visModel:   visModel,
		embModel:   opts.EmbeddingModel,
		embDims:    opts.EmbeddingDimensions,
		sttModel:   sttModel,
	}, nil
}

// NewFromAPIKey constructs a client using the default SDK HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	sc := sdk.NewClient(option.WithAPIKey(apiKey))
	opts.Chat = &sc.Chat.Completions
	opts.Audio = &sc.Audio.Transcriptions
	opts.Embeddings = &sc.Embeddings
	return New(opts)
}

// Complete issues a non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	params, err := c.prepareChat(req)
	if err != nil {
		return nil, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, wrapError("chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, model.NewProviderError(ProviderName, "chat", 0, model.ProviderErrorKindUnknown, "", errors.New("empty choices"))
	}
	return &model.Response{
		Content: resp.Choices[0].Message.Content,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
		StopReason: string(resp.Choices[0].FinishReason),
	}, nil
}

// Stream issues a streaming chat completion and adapts SSE chunks.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := c.prepareChat(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, wrapError("chat_stream", err)
	}
	return &streamer{stream: stream}, nil
}

// Transcribe converts audio to text via the transcription API.
func (c *Client) Transcribe(ctx context.Context, audio []byte, format string) (string, error) {
	if c.audio == nil {
		return "", errors.New("openai: audio service not configured")
	}
	if len(audio) == 0 {
		return "", errors.New("openai: audio payload is empty")
	}
	if format == "" {
		format = "mp3"
	}
	file := sdk.File(bytes.NewReader(audio), "audio."+format, "audio/"+format)
	resp, err := c.audio.New(ctx, sdk.AudioTranscriptionNewParams{
		Model: sdk.AudioModel(c.sttModel),
		File:  file,
	})
	if err != nil {
		return "", wrapError("transcribe", err)
	}
	return resp.Text, nil
}

// Describe produces a textual description of the image using a vision-capable
// chat model. The image travels inline as a base64 data URL.
func (c *Client) Describe(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) == 0 {
		return "", errors.New("openai: image payload is empty")
	}
	if prompt == "" {
		prompt = "Describe this image in detail."
	}
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)
	parts := []sdk.ChatCompletionContentPartUnionParam{
		{OfText: &sdk.ChatCompletionContentPartTextParam{Text: prompt}},
		{OfImageURL: &sdk.ChatCompletionContentPartImageParam{
			ImageURL: sdk.ChatCompletionContentPartImageImageURLParam{URL: dataURL},
		}},
	}
	resp, err := c.chat.New(ctx, sdk.ChatCompletionNewParams{
		Model: shared.ChatModel(c.visModel),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			{OfUser: &sdk.ChatCompletionUserMessageParam{
				Content: sdk.ChatCompletionUserMessageParamContentUnion{OfArrayOfContentParts: parts},
			}},
		},
	})
	if err != nil {
		return "", wrapError("describe", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty vision response")
	}
	return resp.Choices[0].Message.Content, nil
}

// EmbedText returns the embedding vector for the given text.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if c.embeddings == nil {
		return nil, errors.New("openai: embedding service not configured")
	}
	if text == "" {
		return nil, errors.New("openai: text is empty")
	}
	params := sdk.EmbeddingNewParams{
		Model: sdk.EmbeddingModel(c.embModel),
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
	}
	if c.embDims > 0 {
		params.Dimensions = sdk.Int(int64(c.embDims))
	}
	resp, err := c.embeddings.New(ctx, params)
	if err != nil {
		return nil, wrapError("embed_text", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: empty embedding response")
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedImage reports that OpenAI embeddings are text-only; image vectors come
// from the Bedrock Titan adapter.
func (c *Client) EmbedImage(context.Context, []byte) ([]float32, error) {
	return nil, model.ErrImageUnsupported
}

// ModelID identifies the embedding model family stamped on stored rows.
func (c *Client) ModelID() string { return c.embModel }

func (c *Client) prepareChat(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defModel
	}
	msgs := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m == nil || m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleSystem:
			msgs = append(msgs, sdk.SystemMessage(m.Content))
		case model.RoleUser:
			msgs = append(msgs, sdk.UserMessage(m.Content))
		case model.RoleAssistant:
			msgs = append(msgs, sdk.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(msgs) == 0 {
		return nil, errors.New("openai: at least one non-empty message is required")
	}
	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(modelID),
		Messages: msgs,
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(int64(req.MaxTokens))
	}
	if req.ResponseFormat == model.ResponseFormatJSON {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return &params, nil
}

// streamer adapts the SDK SSE stream to model.Streamer.
type streamer struct {
	stream *ssestream.Stream[sdk.ChatCompletionChunk]
}

// Recv returns the next text chunk. It reports io.EOF when the stream ends.
func (s *streamer) Recv() (model.Chunk, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return model.Chunk{Text: delta}, nil
	}
	if err := s.stream.Err(); err != nil {
		return model.Chunk{}, wrapError("chat_stream", err)
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
		// OpenAI reports quota exhaustion as 429 with a dedicated code.
		if apiErr.Code == "insufficient_quota" {
			kind = model.ProviderErrorKindQuota
		}
		return model.NewProviderError(ProviderName, op, apiErr.StatusCode, kind, apiErr.Code, err)
	}
	return model.NewProviderError(ProviderName, op, 0, model.ProviderErrorKindUnavailable, "", err)
}
