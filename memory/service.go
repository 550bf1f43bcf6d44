package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/model"
)

type (
	// Transcriber converts audio to text. Satisfied by the model router.
	Transcriber interface {
		Transcribe(ctx context.Context, audio []byte, format string) (string, error)
	}

	// Options configures the embedding service.
	Options struct {
		// Store persists rows. Required.
		Store Store
		// TextEmbedder produces text vectors. Required.
		TextEmbedder model.Embedder
		// ImageEmbedder produces image vectors comparable to its own text
		// vectors (joint vision-text model). Optional; VectorizeImage fails
		// without it.
		ImageEmbedder model.Embedder
		// Transcriber turns audio into text before embedding. Optional;
		// VectorizeAudio fails without it.
		Transcriber Transcriber
		// Clock overrides the time source, mainly for tests.
		Clock func() time.Time
	}

	// Service embeds content and retrieves similar rows.
	Service struct {
		store Store
		text  model.Embedder
		image model.Embedder
		stt   Transcriber
		now   func() time.Time
	}

	// VectorizeInput carries the common fields of a vectorization request.
	VectorizeInput struct {
		UserID     string
		SourceType SourceType
		SourceID   string
		Metadata   map[string]any
		Confidence float64
	}

	// ImageStorage locates the uploaded image backing an image row.
	ImageStorage struct {
		URL           string
		Bucket        string
		FileName      string
		FileSizeBytes int64
		MimeType      string
	}
)

// New builds a Service from the provided options.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("memory: store is required")
	}
	if opts.TextEmbedder == nil {
		return nil, errors.New("memory: text embedder is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store: opts.Store,
		text:  opts.TextEmbedder,
		image: opts.ImageEmbedder,
		stt:   opts.Transcriber,
		now:   now,
	}, nil
}

// VectorizeText embeds text and stores it as a text row.
func (s *Service) VectorizeText(ctx context.Context, in VectorizeInput, text string) (string, error) {
	if text == "" {
		return "", fault.New(fault.KindInvalidInput, "text is empty")
	}
	vec, err := s.text.EmbedText(ctx, text)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, err, "embed text")
	}
	return s.insert(ctx, in, &Row{
		DataType:       DataText,
		Vector:         vec,
		ContentText:    text,
		EmbeddingModel: s.text.ModelID(),
	})
}

// VectorizeImage embeds image bytes and stores an image row pointing at the
// uploaded object.
func (s *Service) VectorizeImage(ctx context.Context, in VectorizeInput, image []byte, storage ImageStorage, description string) (string, error) {
	if s.image == nil {
		return "", fault.New(fault.KindUpstreamUnavailable, "no image embedder configured")
	}
	if len(image) == 0 {
		return "", fault.New(fault.KindInvalidInput, "image is empty")
	}
	vec, err := s.image.EmbedImage(ctx, image)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, err, "embed image")
	}
	return s.insert(ctx, in, &Row{
		DataType:       DataImage,
		Vector:         vec,
		ContentText:    description,
		StorageURL:     storage.URL,
		StorageBucket:  storage.Bucket,
		FileName:       storage.FileName,
		FileSizeBytes:  storage.FileSizeBytes,
		MimeType:       storage.MimeType,
		EmbeddingModel: s.image.ModelID(),
	})
}

// VectorizeAudio transcribes audio, embeds the transcript as text, and stores
// an audio row carrying the transcript. Raw audio vectors are never stored.
func (s *Service) VectorizeAudio(ctx context.Context, in VectorizeInput, audio []byte, format string) (string, error) {
	if s.stt == nil {
		return "", fault.New(fault.KindUpstreamUnavailable, "no transcriber configured")
	}
	if len(audio) == 0 {
		return "", fault.New(fault.KindInvalidInput, "audio is empty")
	}
	transcript, err := s.stt.Transcribe(ctx, audio, format)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, err, "transcribe audio")
	}
	if transcript == "" {
		return "", fault.New(fault.KindUpstreamUnavailable, "empty transcript")
	}
	vec, err := s.text.EmbedText(ctx, transcript)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, err, "embed transcript")
	}
	return s.insert(ctx, in, &Row{
		DataType:       DataAudio,
		Vector:         vec,
		ContentText:    transcript,
		EmbeddingModel: s.text.ModelID(),
	})
}

// SearchByText embeds the query and returns matching rows ordered by cosine
// similarity.
func (s *Service) SearchByText(ctx context.Context, userID, query string, sourceTypes []SourceType, dataTypes []DataType, limit int, threshold float64) ([]Match, error) {
	if query == "" {
		return nil, fault.New(fault.KindInvalidInput, "query is empty")
	}
	vec, err := s.text.EmbedText(ctx, query)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "embed query")
	}
	matches, err := s.store.Search(ctx, Query{
		UserID:         userID,
		Vector:         vec,
		EmbeddingModel: s.text.ModelID(),
		SourceTypes:    sourceTypes,
		DataTypes:      dataTypes,
		Limit:          limit,
		Threshold:      threshold,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "vector search")
	}
	return matches, nil
}

// SearchSimilarEntries retrieves rows similar to queryText and re-ranks them
// by blending cosine similarity with recency:
//
//	score = (1 − recencyWeight) · similarity + recencyWeight · recency(created_at)
//
// Rows below similarityThreshold are discarded before blending.
func (s *Service) SearchSimilarEntries(ctx context.Context, userID, queryText string, sourceType SourceType, limit int, recencyWeight, similarityThreshold float64) ([]ScoredMatch, error) {
	if recencyWeight < 0 || recencyWeight > 1 {
		return nil, fault.New(fault.KindInvalidInput, "recency weight %v outside [0,1]", recencyWeight)
	}
	var sourceTypes []SourceType
	if sourceType != "" {
		sourceTypes = []SourceType{sourceType}
	}
	// Over-fetch so re-ranking by blended score has candidates to promote.
	fetch := limit * 3
	if fetch < limit {
		fetch = limit
	}
	matches, err := s.SearchByText(ctx, userID, queryText, sourceTypes, nil, fetch, similarityThreshold)
	if err != nil {
		return nil, err
	}
	now := s.now()
	scored := make([]ScoredMatch, 0, len(matches))
	for _, m := range matches {
		score := (1-recencyWeight)*m.Similarity + recencyWeight*Recency(m.Row.CreatedAt, now)
		scored = append(scored, ScoredMatch{Match: m, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *Service) insert(ctx context.Context, in VectorizeInput, row *Row) (string, error) {
	if in.UserID == "" {
		return "", fault.New(fault.KindInvalidInput, "user id is required")
	}
	row.UserID = in.UserID
	row.SourceType = in.SourceType
	row.SourceID = in.SourceID
	row.Metadata = in.Metadata
	row.ConfidenceScore = in.Confidence
	row.CreatedAt = s.now().UTC()
	id, err := s.store.Insert(ctx, row)
	if err != nil {
		return "", fault.Wrap(fault.KindUpstreamUnavailable, err, "insert embedding row")
	}
	log.Debug(ctx, log.KV{K: "msg", V: "embedding stored"},
		log.KV{K: "user_id", V: in.UserID},
		log.KV{K: "data_type", V: string(row.DataType)},
		log.KV{K: "source_type", V: string(row.SourceType)})
	return id, nil
}
