// Package bedrock provides a model.Embedder backed by the AWS Bedrock Titan
// Multimodal Embeddings model. Titan produces text and image vectors in the
// same space, which keeps meal-photo rows comparable with text rows when the
// deployment selects Bedrock as the embedding provider.
package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/fitcoach-ai/fitcoach/model"
)

// ProviderName identifies this adapter in provider errors.
const ProviderName = "bedrock"

// DefaultModelID is the Titan multimodal embedding model.
const DefaultModelID = "amazon.titan-embed-image-v1"

type (
	// RuntimeClient mirrors the subset of the Bedrock runtime client required
	// by the embedder. It matches *bedrockruntime.Client so callers can pass
	// either the real client or a mock in tests.
	RuntimeClient interface {
		InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
	}

	// Options configures the embedder.
	Options struct {
		// Runtime provides access to the Bedrock runtime. Required.
		Runtime RuntimeClient
		// ModelID overrides the Titan model identifier.
		ModelID string
		// OutputLength requests a reduced vector width (256, 384, or 1024 for
		// Titan multimodal). Zero uses the model default.
		OutputLength int
	}

	// Embedder implements model.Embedder via Titan multimodal embeddings.
	Embedder struct {
		runtime RuntimeClient
		modelID string
		outLen  int
	}

	titanRequest struct {
		InputText  string       `json:"inputText,omitempty"`
		InputImage string       `json:"inputImage,omitempty"`
		Config     *titanConfig `json:"embeddingConfig,omitempty"`
	}

	titanConfig struct {
		OutputEmbeddingLength int `json:"outputEmbeddingLength"`
	}

	titanResponse struct {
		Embedding []float32 `json:"embedding"`
		Message   string    `json:"message,omitempty"`
	}
)

// New builds a Titan embedder from the provided options.
func New(opts Options) (*Embedder, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	modelID := opts.ModelID
	if modelID == "" {
		modelID = DefaultModelID
	}
	return &Embedder{runtime: opts.Runtime, modelID: modelID, outLen: opts.OutputLength}, nil
}

// EmbedText returns the Titan embedding for the given text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("bedrock: text is empty")
	}
	return e.invoke(ctx, titanRequest{InputText: text})
}

// EmbedImage returns the Titan embedding for the given image bytes.
func (e *Embedder) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, errors.New("bedrock: image payload is empty")
	}
	return e.invoke(ctx, titanRequest{InputImage: base64.StdEncoding.EncodeToString(image)})
}

// ModelID identifies the embedding model family stamped on stored rows.
func (e *Embedder) ModelID() string { return e.modelID }

func (e *Embedder) invoke(ctx context.Context, req titanRequest) ([]float32, error) {
	if e.outLen > 0 {
		req.Config = &titanConfig{OutputEmbeddingLength: e.outLen}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal titan request: %w", err)
	}
	out, err := e.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(e.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, wrapError("invoke_model", err)
	}
	var resp titanResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("bedrock: decode titan response: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("bedrock: empty titan embedding: %s", resp.Message)
	}
	return resp.Embedding, nil
}

func wrapError(op string, err error) error {
	var (
		status int
		code   string
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	kind := model.ProviderErrorKindUnknown
	switch {
	case code == "ThrottlingException" || code == "TooManyRequestsException" || status == http.StatusTooManyRequests:
		kind = model.ProviderErrorKindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = model.ProviderErrorKindAuth
	case status == http.StatusBadRequest:
		kind = model.ProviderErrorKindInvalidRequest
	case status >= http.StatusInternalServerError:
		kind = model.ProviderErrorKindUnavailable
	}
	return model.NewProviderError(ProviderName, op, status, kind, code, err)
}
