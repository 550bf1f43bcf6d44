// Package mongo persists consultation sessions, messages, and extractions in
// MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/fitcoach-ai/fitcoach/consult"
)

const (
	defaultOpTimeout  = 10 * time.Second
	consultClientName = "consultations-mongo"
)

type (
	// Options configures the Mongo consultation store.
	Options struct {
		// Client is the connected Mongo client. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Timeout bounds each store operation.
		Timeout time.Duration
	}

	// Store implements consult.Store on MongoDB.
	Store struct {
		mongo       *mongodriver.Client
		sessions    *mongodriver.Collection
		messages    *mongodriver.Collection
		extractions *mongodriver.Collection
		timeout     time.Duration
	}

	sessionDoc struct {
		ID             bson.ObjectID             `bson:"_id,omitempty"`
		UserID         string                    `bson:"user_id"`
		SpecialistType string                    `bson:"specialist_type"`
		Status         string                    `bson:"status"`
		StageIndex     int                       `bson:"stage_index"`
		TotalMessages  int                       `bson:"total_messages"`
		Progress       int                       `bson:"progress"`
		Summary        map[string]map[string]any `bson:"summary,omitempty"`
		Title          string                    `bson:"title,omitempty"`
		LastMessageAt  time.Time                 `bson:"last_message_at,omitempty"`
		CreatedAt      time.Time                 `bson:"created_at"`
		UpdatedAt      time.Time                 `bson:"updated_at"`
		CompletedAt    time.Time                 `bson:"completed_at,omitempty"`
	}

	messageDoc struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		SessionID string        `bson:"session_id"`
		UserID    string        `bson:"user_id"`
		Role      string        `bson:"role"`
		Content   string        `bson:"content"`
		CreatedAt time.Time     `bson:"created_at"`
	}

	extractionDoc struct {
		ID         bson.ObjectID  `bson:"_id,omitempty"`
		SessionID  string         `bson:"session_id"`
		UserID     string         `bson:"user_id"`
		Category   string         `bson:"category"`
		Data       map[string]any `bson:"data"`
		Confidence float64        `bson:"confidence"`
		CreatedAt  time.Time      `bson:"created_at"`
	}
)

// New builds a Store and ensures its indexes, including the unique partial
// index enforcing one active session per (user, specialist) pair.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:       opts.Client,
		sessions:    db.Collection("consultation_sessions"),
		messages:    db.Collection("consultation_messages"),
		extractions: db.Collection("consultation_extractions"),
		timeout:     timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies the store for health checks.
func (s *Store) Name() string { return consultClientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// CreateSession persists a new session. The unique partial index turns a
// concurrent duplicate active session into consult.ErrActiveExists.
func (s *Store) CreateSession(ctx context.Context, sess *consult.Session) (string, error) {
	if sess.UserID == "" {
		return "", errors.New("user id is required")
	}
	doc := sessionDoc{
		ID:             bson.NewObjectID(),
		UserID:         sess.UserID,
		SpecialistType: sess.SpecialistType,
		Status:         sess.Status,
		StageIndex:     sess.StageIndex,
		TotalMessages:  sess.TotalMessages,
		Progress:       sess.Progress,
		CreatedAt:      sess.CreatedAt.UTC(),
		UpdatedAt:      sess.UpdatedAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.sessions.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return "", consult.ErrActiveExists
		}
		return "", err
	}
	sess.ID = doc.ID.Hex()
	return sess.ID, nil
}

// GetSession returns the session or consult.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, id string) (*consult.Session, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, consult.ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDoc
	if err := s.sessions.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, consult.ErrNotFound
		}
		return nil, err
	}
	sess := doc.toSession()
	return &sess, nil
}

// ActiveSession returns the user's active session with the specialist.
func (s *Store) ActiveSession(ctx context.Context, userID, specialistType string) (*consult.Session, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.M{
		"user_id":         userID,
		"specialist_type": specialistType,
		"status":          consult.StatusActive,
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, consult.ErrNotFound
		}
		return nil, err
	}
	sess := doc.toSession()
	return &sess, nil
}

// UpdateSession replaces the session's mutable fields.
func (s *Store) UpdateSession(ctx context.Context, sess *consult.Session) error {
	oid, err := bson.ObjectIDFromHex(sess.ID)
	if err != nil {
		return consult.ErrNotFound
	}
	set := bson.M{
		"status":         sess.Status,
		"stage_index":    sess.StageIndex,
		"total_messages": sess.TotalMessages,
		"progress":       sess.Progress,
		"updated_at":     sess.UpdatedAt.UTC(),
	}
	if sess.Summary != nil {
		set["summary"] = sess.Summary
	}
	if sess.Title != "" {
		set["title"] = sess.Title
	}
	if !sess.LastMessageAt.IsZero() {
		set["last_message_at"] = sess.LastMessageAt.UTC()
	}
	if !sess.CompletedAt.IsZero() {
		set["completed_at"] = sess.CompletedAt.UTC()
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.sessions.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return consult.ErrNotFound
	}
	return nil
}

// AppendMessage appends a message to the session's ordered log.
func (s *Store) AppendMessage(ctx context.Context, m *consult.Message) (string, error) {
	doc := messageDoc{
		ID:        bson.NewObjectID(),
		SessionID: m.SessionID,
		UserID:    m.UserID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	m.ID = doc.ID.Hex()
	return m.ID, nil
}

// Tail returns the session's last n messages in chronological order.
func (s *Store) Tail(ctx context.Context, sessionID string, n int) ([]consult.Message, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	find := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})
	if n > 0 {
		find = find.SetLimit(int64(n))
	}
	cur, err := s.messages.Find(ctx, bson.M{"session_id": sessionID}, find)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []consult.Message
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, consult.Message{
			ID:        doc.ID.Hex(),
			SessionID: doc.SessionID,
			UserID:    doc.UserID,
			Role:      doc.Role,
			Content:   doc.Content,
			CreatedAt: doc.CreatedAt,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	// Fetched newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// InsertExtraction appends an extraction row.
func (s *Store) InsertExtraction(ctx context.Context, e *consult.Extraction) (string, error) {
	doc := extractionDoc{
		ID:         bson.NewObjectID(),
		SessionID:  e.SessionID,
		UserID:     e.UserID,
		Category:   e.Category,
		Data:       e.Data,
		Confidence: e.Confidence,
		CreatedAt:  e.CreatedAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.extractions.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	e.ID = doc.ID.Hex()
	return e.ID, nil
}

// Extractions returns the session's extractions in chronological order.
func (s *Store) Extractions(ctx context.Context, sessionID string) ([]consult.Extraction, error) {
	return s.findExtractions(ctx, bson.M{"session_id": sessionID})
}

// SessionsByUser returns the user's sessions, most recent first.
func (s *Store) SessionsByUser(ctx context.Context, userID string, limit int) ([]consult.Session, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	find := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		find = find.SetLimit(int64(limit))
	}
	cur, err := s.sessions.Find(ctx, bson.M{"user_id": userID}, find)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []consult.Session
	for cur.Next(ctx) {
		var doc sessionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toSession())
	}
	return out, cur.Err()
}

// ExtractionsByUser returns the user's extractions for a category in
// chronological order.
func (s *Store) ExtractionsByUser(ctx context.Context, userID, category string, since time.Time) ([]consult.Extraction, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	filter := bson.M{"user_id": userID}
	if category != "" {
		filter["category"] = category
	}
	if !since.IsZero() {
		filter["created_at"] = bson.M{"$gte": since.UTC()}
	}
	return s.findExtractions(ctx, filter)
}

func (s *Store) findExtractions(ctx context.Context, filter bson.M) ([]consult.Extraction, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.extractions.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []consult.Extraction
	for cur.Next(ctx) {
		var doc extractionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, consult.Extraction{
			ID:         doc.ID.Hex(),
			SessionID:  doc.SessionID,
			UserID:     doc.UserID,
			Category:   doc.Category,
			Data:       doc.Data,
			Confidence: doc.Confidence,
			CreatedAt:  doc.CreatedAt,
		})
	}
	return out, cur.Err()
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

func (doc sessionDoc) toSession() consult.Session {
	return consult.Session{
		ID:             doc.ID.Hex(),
		UserID:         doc.UserID,
		SpecialistType: doc.SpecialistType,
		Status:         doc.Status,
		StageIndex:     doc.StageIndex,
		TotalMessages:  doc.TotalMessages,
		Progress:       doc.Progress,
		Summary:        doc.Summary,
		Title:          doc.Title,
		LastMessageAt:  doc.LastMessageAt,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
		CompletedAt:    doc.CompletedAt,
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	// One active session per (user, specialist) pair, enforced at the store.
	if _, err := s.sessions.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "specialist_type", Value: 1},
		},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": consult.StatusActive}),
	}); err != nil {
		return err
	}
	if _, err := s.messages.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}); err != nil {
		return err
	}
	extractionIndexes := []mongodriver.IndexModel{
		{Keys: bson.D{
			{Key: "session_id", Value: 1},
			{Key: "created_at", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "category", Value: 1},
			{Key: "created_at", Value: 1},
		}},
	}
	for _, m := range extractionIndexes {
		if _, err := s.extractions.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
