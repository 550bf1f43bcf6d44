// Package mongo persists recommendations, programs, and events in MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/fitcoach-ai/fitcoach/recommend"
)

const (
	defaultOpTimeout         = 10 * time.Second
	recommendationClientName = "recommendations-mongo"
)

type (
	// Options configures the Mongo recommendation store.
	Options struct {
		// Client is the connected Mongo client. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Timeout bounds each store operation.
		Timeout time.Duration
	}

	// Store implements recommend.Store on MongoDB.
	Store struct {
		mongo    *mongodriver.Client
		recs     *mongodriver.Collection
		programs *mongodriver.Collection
		events   *mongodriver.Collection
		timeout  time.Duration
	}

	recDoc struct {
		ID                 bson.ObjectID  `bson:"_id,omitempty"`
		UserID             string         `bson:"user_id"`
		Type               string         `bson:"type"`
		MealType           string         `bson:"meal_type,omitempty"`
		Title              string         `bson:"title"`
		Description        string         `bson:"description,omitempty"`
		Priority           int            `bson:"priority"`
		Data               map[string]any `bson:"data,omitempty"`
		RecommendationDate time.Time      `bson:"recommendation_date"`
		RecommendationTime time.Time      `bson:"recommendation_time"`
		ExpiresAt          time.Time      `bson:"expires_at"`
		Status             string         `bson:"status"`
		CreatedAt          time.Time      `bson:"created_at"`
		UpdatedAt          time.Time      `bson:"updated_at"`
	}

	programDayDoc struct {
		DayIndex    int    `bson:"day_index"`
		Name        string `bson:"name"`
		Focus       string `bson:"focus,omitempty"`
		Description string `bson:"description,omitempty"`
	}

	programDoc struct {
		ID        bson.ObjectID   `bson:"_id,omitempty"`
		UserID    string          `bson:"user_id"`
		Name      string          `bson:"name"`
		Status    string          `bson:"status"`
		StartDate time.Time       `bson:"start_date"`
		Days      []programDayDoc `bson:"days,omitempty"`
		CreatedAt time.Time       `bson:"created_at"`
	}

	eventDoc struct {
		ID                bson.ObjectID `bson:"_id,omitempty"`
		UserID            string        `bson:"user_id"`
		Name              string        `bson:"name"`
		EventType         string        `bson:"event_type"`
		EventDate         time.Time     `bson:"event_date"`
		TrainingStartDate time.Time     `bson:"training_start_date,omitempty"`
		PeakWeekDate      time.Time     `bson:"peak_week_date,omitempty"`
		TaperStartDate    time.Time     `bson:"taper_start_date,omitempty"`
		IsPrimaryGoal     bool          `bson:"is_primary_goal"`
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
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	s := &Store{
		mongo:    opts.Client,
		recs:     db.Collection("recommendations"),
		programs: db.Collection("programs"),
		events:   db.Collection("events"),
		timeout:  timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies the store for health checks.
func (s *Store) Name() string { return recommendationClientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// InsertRecommendation persists the recommendation and returns its id.
func (s *Store) InsertRecommendation(ctx context.Context, r *recommend.Recommendation) (string, error) {
	if r.UserID == "" {
		return "", errors.New("user id is required")
	}
	doc := recDoc{
		ID:                 bson.NewObjectID(),
		UserID:             r.UserID,
		Type:               r.Type,
		MealType:           r.MealType,
		Title:              r.Title,
		Description:        r.Description,
		Priority:           r.Priority,
		Data:               r.Data,
		RecommendationDate: r.RecommendationDate.UTC(),
		RecommendationTime: r.RecommendationTime.UTC(),
		ExpiresAt:          r.ExpiresAt.UTC(),
		Status:             r.Status,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.recs.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	r.ID = doc.ID.Hex()
	return r.ID, nil
}

// GetRecommendation returns the recommendation or recommend.ErrNotFound.
func (s *Store) GetRecommendation(ctx context.Context, id string) (*recommend.Recommendation, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, recommend.ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc recDoc
	if err := s.recs.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, recommend.ErrNotFound
		}
		return nil, err
	}
	rec := doc.toRecommendation()
	return &rec, nil
}

// UpdateStatus transitions a recommendation. The update filter excludes
// terminal statuses so the guard holds under concurrent writers.
func (s *Store) UpdateStatus(ctx context.Context, id, status string) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return recommend.ErrNotFound
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.recs.UpdateOne(ctx,
		bson.M{
			"_id":    oid,
			"status": bson.M{"$nin": []string{recommend.StatusRejected, recommend.StatusCompleted, recommend.StatusExpired}},
		},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now().UTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// Distinguish missing from terminal.
		n, err := s.recs.CountDocuments(ctx, bson.M{"_id": oid})
		if err != nil {
			return err
		}
		if n == 0 {
			return recommend.ErrNotFound
		}
		return recommend.ErrTerminalStatus
	}
	return nil
}

// ForDate returns the user's recommendations for the UTC day, ordered by
// recommendation time.
func (s *Store) ForDate(ctx context.Context, userID string, day time.Time) ([]recommend.Recommendation, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	filter := bson.M{
		"user_id":             userID,
		"recommendation_date": bson.M{"$gte": start, "$lt": start.Add(24 * time.Hour)},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.recs.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "recommendation_time", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []recommend.Recommendation
	for cur.Next(ctx) {
		var doc recDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecommendation())
	}
	return out, cur.Err()
}

// ExpirePast marks non-terminal recommendations past expiry as expired.
func (s *Store) ExpirePast(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.recs.UpdateMany(ctx,
		bson.M{
			"expires_at": bson.M{"$lt": now.UTC()},
			"status":     bson.M{"$in": []string{recommend.StatusPending, recommend.StatusAccepted}},
		},
		bson.M{"$set": bson.M{"status": recommend.StatusExpired, "updated_at": now.UTC()}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// InsertProgram persists the program, superseding any previous active one.
func (s *Store) InsertProgram(ctx context.Context, p *recommend.Program) (string, error) {
	if p.UserID == "" {
		return "", errors.New("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if p.Status == "active" {
		if _, err := s.programs.UpdateMany(ctx,
			bson.M{"user_id": p.UserID, "status": "active"},
			bson.M{"$set": bson.M{"status": "superseded"}}); err != nil {
			return "", err
		}
	}
	days := make([]programDayDoc, len(p.Days))
	for i, d := range p.Days {
		days[i] = programDayDoc(d)
	}
	doc := programDoc{
		ID:        bson.NewObjectID(),
		UserID:    p.UserID,
		Name:      p.Name,
		Status:    p.Status,
		StartDate: p.StartDate.UTC(),
		Days:      days,
		CreatedAt: p.CreatedAt.UTC(),
	}
	if _, err := s.programs.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	p.ID = doc.ID.Hex()
	return p.ID, nil
}

// ActiveProgram returns the user's active program or recommend.ErrNotFound.
func (s *Store) ActiveProgram(ctx context.Context, userID string) (*recommend.Program, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc programDoc
	err := s.programs.FindOne(ctx,
		bson.M{"user_id": userID, "status": "active"},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, recommend.ErrNotFound
		}
		return nil, err
	}
	days := make([]recommend.ProgramDay, len(doc.Days))
	for i, d := range doc.Days {
		days[i] = recommend.ProgramDay(d)
	}
	return &recommend.Program{
		ID:        doc.ID.Hex(),
		UserID:    doc.UserID,
		Name:      doc.Name,
		Status:    doc.Status,
		StartDate: doc.StartDate,
		Days:      days,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// InsertEvent persists the event, clearing the primary flag on the user's
// other events when set.
func (s *Store) InsertEvent(ctx context.Context, e *recommend.Event) (string, error) {
	if e.UserID == "" {
		return "", errors.New("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if e.IsPrimaryGoal {
		if _, err := s.events.UpdateMany(ctx,
			bson.M{"user_id": e.UserID, "is_primary_goal": true},
			bson.M{"$set": bson.M{"is_primary_goal": false}}); err != nil {
			return "", err
		}
	}
	doc := eventDoc{
		ID:                bson.NewObjectID(),
		UserID:            e.UserID,
		Name:              e.Name,
		EventType:         e.EventType,
		EventDate:         e.EventDate.UTC(),
		TrainingStartDate: e.TrainingStartDate.UTC(),
		PeakWeekDate:      e.PeakWeekDate.UTC(),
		TaperStartDate:    e.TaperStartDate.UTC(),
		IsPrimaryGoal:     e.IsPrimaryGoal,
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	e.ID = doc.ID.Hex()
	return e.ID, nil
}

// UpcomingEvents returns the user's events dated within [from, to], soonest
// first.
func (s *Store) UpcomingEvents(ctx context.Context, userID string, from, to time.Time) ([]recommend.Event, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	filter := bson.M{
		"user_id":    userID,
		"event_date": bson.M{"$gte": from.UTC(), "$lte": to.UTC()},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.events.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "event_date", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []recommend.Event
	for cur.Next(ctx) {
		var doc eventDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, recommend.Event{
			ID:                doc.ID.Hex(),
			UserID:            doc.UserID,
			Name:              doc.Name,
			EventType:         doc.EventType,
			EventDate:         doc.EventDate,
			TrainingStartDate: doc.TrainingStartDate,
			PeakWeekDate:      doc.PeakWeekDate,
			TaperStartDate:    doc.TaperStartDate,
			IsPrimaryGoal:     doc.IsPrimaryGoal,
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

func (doc recDoc) toRecommendation() recommend.Recommendation {
	return recommend.Recommendation{
		ID:                 doc.ID.Hex(),
		UserID:             doc.UserID,
		Type:               doc.Type,
		MealType:           doc.MealType,
		Title:              doc.Title,
		Description:        doc.Description,
		Priority:           doc.Priority,
		Data:               doc.Data,
		RecommendationDate: doc.RecommendationDate,
		RecommendationTime: doc.RecommendationTime,
		ExpiresAt:          doc.ExpiresAt,
		Status:             doc.Status,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	recIndexes := []mongodriver.IndexModel{
		{Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "recommendation_date", Value: 1},
			{Key: "status", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "expires_at", Value: 1},
			{Key: "status", Value: 1},
		}},
	}
	for _, m := range recIndexes {
		if _, err := s.recs.Indexes().CreateOne(ctx, m); err != nil {
			return err
		}
	}
	if _, err := s.programs.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "status", Value: 1},
		},
	}); err != nil {
		return err
	}
	_, err := s.events.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "event_date", Value: 1},
		},
	})
	return err
}
