// Package model provides provider-agnostic interfaces for the AI capabilities
// the coaching core depends on: chat completion, speech-to-text, vision
// description, and embeddings. Implementations wrap provider SDKs (OpenAI,
// Anthropic, Bedrock) and translate Request/Response to provider-specific
// formats so the router and pipelines never couple to a specific SDK.
package model

import (
	"context"
	"errors"
)

type (
	// Client defines the contract the router uses to invoke chat completions.
	// Implementations must be safe for concurrent use.
	Client interface {
		// Complete sends a chat completion request and returns the generated
		// response. Implementations surface provider failures as *ProviderError
		// so the router can classify them.
		Complete(ctx context.Context, req *Request) (*Response, error)

		// Stream sends a chat completion request and returns a Streamer that
		// yields incremental text chunks. Providers without streaming support
		// return ErrStreamingUnsupported.
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// SpeechToText transcribes recorded audio into text.
	SpeechToText interface {
		// Transcribe converts audio bytes in the given container format
		// ("mp3", "wav", "m4a", "webm") into text.
		Transcribe(ctx context.Context, audio []byte, format string) (string, error)
	}

	// Vision produces a natural-language description of an image.
	Vision interface {
		// Describe returns a textual description of the image guided by prompt.
		Describe(ctx context.Context, image []byte, prompt string) (string, error)
	}

	// Embedder produces fixed-length vectors for text and images. Vectors from
	// different Embedder implementations are not comparable; ModelID stamps
	// every stored row so retrieval can refuse cross-model comparisons.
	Embedder interface {
		// EmbedText returns the embedding vector for the given text.
		EmbedText(ctx context.Context, text string) ([]float32, error)
		// EmbedImage returns the embedding vector for the given image bytes.
		// Implementations that only handle text return ErrImageUnsupported.
		EmbedImage(ctx context.Context, image []byte) ([]float32, error)
		// ModelID identifies the embedding model family (e.g.
		// "text-embedding-3-small", "amazon.titan-embed-image-v1").
		ModelID() string
	}

	// Streamer delivers incremental model output. Successive calls to Recv
	// return chunks until io.EOF. Close releases underlying resources.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}

	// Request captures the normalized parameters of a chat completion.
	Request struct {
		// Model is the provider-specific model identifier.
		Model string
		// Messages is the ordered conversation, including system prompts.
		Messages []*Message
		// Temperature controls sampling; zero means provider default.
		Temperature float64
		// MaxTokens caps completion length; zero means provider default.
		MaxTokens int
		// ResponseFormat requests a structured output mode. Empty means plain
		// text; ResponseFormatJSON asks the provider to emit a JSON object.
		ResponseFormat ResponseFormat
	}

	// Response wraps the generated content.
	Response struct {
		// Content is the assistant text (for JSON mode, the serialized object).
		Content string
		// Usage reports token consumption when the provider provides it.
		Usage TokenUsage
		// StopReason is the provider-specific termination reason.
		StopReason string
	}

	// Message is a single chat turn.
	Message struct {
		// Role is one of RoleSystem, RoleUser, RoleAssistant.
		Role Role
		// Content is the message text.
		Content string
	}

	// Chunk is one streaming increment.
	Chunk struct {
		// Text is the incremental assistant text.
		Text string
		// Usage carries a final usage report when the provider emits one.
		Usage *TokenUsage
	}

	// TokenUsage records prompt/completion token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Role identifies the author of a chat message.
	Role string

	// ResponseFormat selects the completion output mode.
	ResponseFormat string
)

const (
	// RoleSystem marks instruction/context messages.
	RoleSystem Role = "system"
	// RoleUser marks end-user input.
	RoleUser Role = "user"
	// RoleAssistant marks model output.
	RoleAssistant Role = "assistant"

	// ResponseFormatJSON asks the provider for a JSON object response.
	ResponseFormatJSON ResponseFormat = "json_object"
)

// ErrStreamingUnsupported indicates the provider does not implement streaming
// for the requested model/parameters.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrImageUnsupported indicates the embedder handles text only.
var ErrImageUnsupported = errors.New("model: image embedding not supported")

// SystemMessage is a convenience constructor for system turns.
func SystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// UserMessage is a convenience constructor for user turns.
func UserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// AssistantMessage is a convenience constructor for assistant turns.
func AssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}
