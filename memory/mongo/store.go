// Package mongo persists embedding rows in MongoDB. Similarity is computed
// client-side over a server-filtered candidate window: the deployment does not
// assume an Atlas vector index, and per-user candidate sets are small.
package mongo

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/fitcoach-ai/fitcoach/memory"
)

const (
	defaultCollection    = "embeddings"
	defaultOpTimeout     = 10 * time.Second
	defaultCandidateCap  = 1000
	embeddingsClientName = "embeddings-mongo"
)

type (
	// Options configures the Mongo embedding store.
	Options struct {
		// Client is the connected Mongo client. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Collection overrides the embeddings collection name.
		Collection string
		// Timeout bounds each store operation.
		Timeout time.Duration
		// CandidateCap bounds the server-side candidate window scanned per
		// search.
		CandidateCap int
	}

	// Store implements memory.Store on MongoDB.
	Store struct {
		mongo   *mongodriver.Client
		coll    *mongodriver.Collection
		timeout time.Duration
		cap     int
	}

	document struct {
		ID            bson.ObjectID     `bson:"_id,omitempty"`
		UserID        string            `bson:"user_id"`
		DataType      memory.DataType   `bson:"data_type"`
		SourceType    memory.SourceType `bson:"source_type,omitempty"`
		SourceID      string            `bson:"source_id,omitempty"`
		Vector        []float32         `bson:"embedding"`
		ContentText   string            `bson:"content_text,omitempty"`
		StorageURL    string            `bson:"storage_url,omitempty"`
		StorageBucket string            `bson:"storage_bucket,omitempty"`
		FileName      string            `bson:"file_name,omitempty"`
		FileSizeBytes int64             `bson:"file_size_bytes,omitempty"`
		MimeType      string            `bson:"mime_type,omitempty"`
		Metadata      map[string]any    `bson:"metadata,omitempty"`
		Confidence    float64           `bson:"confidence_score"`
		CreatedAt     time.Time         `bson:"created_at"`
		Model         string            `bson:"embedding_model"`
	}
)

// New builds a Store and ensures its indexes.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	candidateCap := opts.CandidateCap
	if candidateCap <= 0 {
		candidateCap = defaultCandidateCap
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, coll: coll, timeout: timeout, cap: candidateCap}, nil
}

// Name identifies the store for health checks.
func (s *Store) Name() string { return embeddingsClientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Insert persists the row and returns its assigned id.
func (s *Store) Insert(ctx context.Context, row *memory.Row) (string, error) {
	if row.UserID == "" {
		return "", errors.New("user id is required")
	}
	if len(row.Vector) == 0 {
		return "", errors.New("vector is required")
	}
	if row.EmbeddingModel == "" {
		return "", errors.New("embedding model is required")
	}
	doc := fromRow(row)
	doc.ID = bson.NewObjectID()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID.Hex(), nil
}

// Search filters candidates server-side (user, model, source/data types) and
// ranks them client-side by cosine similarity.
func (s *Store) Search(ctx context.Context, q memory.Query) ([]memory.Match, error) {
	if q.EmbeddingModel == "" {
		return nil, memory.ErrModelRequired
	}
	if q.UserID == "" {
		return nil, errors.New("user id is required")
	}
	filter := bson.M{
		"user_id":         q.UserID,
		"embedding_model": q.EmbeddingModel,
	}
	if len(q.SourceTypes) > 0 {
		filter["source_type"] = bson.M{"$in": q.SourceTypes}
	}
	if len(q.DataTypes) > 0 {
		filter["data_type"] = bson.M{"$in": q.DataTypes}
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(s.cap)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var matches []memory.Match
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		sim := memory.Cosine(q.Vector, doc.Vector)
		if sim < q.Threshold {
			continue
		}
		matches = append(matches, memory.Match{Row: doc.toRow(), Similarity: sim})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	return matches, nil
}

// DeleteOlderThan removes rows created before the cutoff.
func (s *Store) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	filter := bson.M{"created_at": bson.M{"$lt": cutoff.UTC()}}
	if userID != "" {
		filter["user_id"] = userID
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func fromRow(row *memory.Row) document {
	return document{
		UserID:        row.UserID,
		DataType:      row.DataType,
		SourceType:    row.SourceType,
		SourceID:      row.SourceID,
		Vector:        row.Vector,
		ContentText:   row.ContentText,
		StorageURL:    row.StorageURL,
		StorageBucket: row.StorageBucket,
		FileName:      row.FileName,
		FileSizeBytes: row.FileSizeBytes,
		MimeType:      row.MimeType,
		Metadata:      row.Metadata,
		Confidence:    row.ConfidenceScore,
		CreatedAt:     row.CreatedAt.UTC(),
		Model:         row.EmbeddingModel,
	}
}

func (doc document) toRow() memory.Row {
	return memory.Row{
		ID:              doc.ID.Hex(),
		UserID:          doc.UserID,
		DataType:        doc.DataType,
		SourceType:      doc.SourceType,
		SourceID:        doc.SourceID,
		Vector:          doc.Vector,
		ContentText:     doc.ContentText,
		StorageURL:      doc.StorageURL,
		StorageBucket:   doc.StorageBucket,
		FileName:        doc.FileName,
		FileSizeBytes:   doc.FileSizeBytes,
		MimeType:        doc.MimeType,
		Metadata:        doc.Metadata,
		ConfidenceScore: doc.Confidence,
		CreatedAt:       doc.CreatedAt,
		EmbeddingModel:  doc.Model,
	}
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	models := []mongodriver.IndexModel{
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "embedding_model", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "source_type", Value: 1},
		}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}
	for _, m := range models {
		if _, err := coll.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
