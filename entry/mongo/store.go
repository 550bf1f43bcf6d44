// Package mongo persists typed entries in MongoDB, one collection per entry
// type.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/fitcoach-ai/fitcoach/enrich"
	"github.com/fitcoach-ai/fitcoach/entry"
)

const (
	defaultOpTimeout  = 10 * time.Second
	entriesClientName = "entries-mongo"
)

type (
	// Options configures the Mongo entry store.
	Options struct {
		// Client is the connected Mongo client. Required.
		Client *mongodriver.Client
		// Database is the database name. Required.
		Database string
		// Timeout bounds each store operation.
		Timeout time.Duration
	}

	// Store implements entry.Store on MongoDB.
	Store struct {
		mongo        *mongodriver.Client
		meals        *mongodriver.Collection
		activities   *mongodriver.Collection
		workouts     *mongodriver.Collection
		notes        *mongodriver.Collection
		measurements *mongodriver.Collection
		timeout      time.Duration
	}

	mealDoc struct {
		ID                bson.ObjectID `bson:"_id,omitempty"`
		UserID            string        `bson:"user_id"`
		Name              string        `bson:"name,omitempty"`
		MealType          string        `bson:"meal_type,omitempty"`
		Calories          float64       `bson:"calories"`
		ProteinG          float64       `bson:"protein_g"`
		CarbsG            float64       `bson:"carbs_g"`
		FatG              float64       `bson:"fat_g"`
		FiberG            float64       `bson:"fiber_g"`
		SugarG            float64       `bson:"sugar_g"`
		SodiumMg          float64       `bson:"sodium_mg"`
		Foods             []string      `bson:"foods,omitempty"`
		ImageURL          string        `bson:"image_url,omitempty"`
		Confidence        float64       `bson:"confidence_score"`
		QualityScore      float64       `bson:"quality_score"`
		MacroBalanceScore float64       `bson:"macro_balance_score"`
		GoalAdherence     *float64      `bson:"goal_adherence,omitempty"`
		Tags              []string      `bson:"tags,omitempty"`
		LoggedAt          time.Time     `bson:"logged_at"`
	}

	activityDoc struct {
		ID                 bson.ObjectID `bson:"_id,omitempty"`
		UserID             string        `bson:"user_id"`
		Name               string        `bson:"name,omitempty"`
		ActivityType       string        `bson:"activity_type,omitempty"`
		SportType          string        `bson:"sport_type,omitempty"`
		ElapsedTimeSeconds float64       `bson:"elapsed_time_seconds"`
		MovingTimeSeconds  float64       `bson:"moving_time_seconds"`
		DistanceMeters     float64       `bson:"distance_meters"`
		Calories           float64       `bson:"calories"`
		PerceivedExertion  float64       `bson:"perceived_exertion"`
		Mood               string        `bson:"mood,omitempty"`
		EnergyLevel        float64       `bson:"energy_level"`
		Confidence         float64       `bson:"confidence_score"`
		PerformanceScore   float64       `bson:"performance_score"`
		RecoveryHours      float64       `bson:"recovery_hours"`
		StartDate          time.Time     `bson:"start_date"`
	}

	exerciseDoc struct {
		Name     string  `bson:"name"`
		Sets     int     `bson:"sets"`
		Reps     int     `bson:"reps"`
		WeightKg float64 `bson:"weight_kg"`
	}

	workoutDoc struct {
		ID              bson.ObjectID `bson:"_id,omitempty"`
		UserID          string        `bson:"user_id"`
		Notes           string        `bson:"notes,omitempty"`
		DurationMinutes float64       `bson:"duration_minutes"`
		Exercises       []exerciseDoc `bson:"exercises,omitempty"`
		VolumeLoad      float64       `bson:"volume_load"`
		MuscleGroups    []string      `bson:"muscle_groups,omitempty"`
		RPE             float64       `bson:"rpe"`
		Mood            string        `bson:"mood,omitempty"`
		Confidence      float64       `bson:"confidence_score"`
		OverloadStatus  string        `bson:"overload_status,omitempty"`
		RecoveryHours   float64       `bson:"recovery_hours"`
		StartedAt       time.Time     `bson:"started_at"`
		CompletedAt     time.Time     `bson:"completed_at"`
	}

	noteDoc struct {
		ID        bson.ObjectID     `bson:"_id,omitempty"`
		UserID    string            `bson:"user_id"`
		Title     string            `bson:"title,omitempty"`
		Content   string            `bson:"content"`
		Category  string            `bson:"category,omitempty"`
		Sentiment *enrich.Sentiment `bson:"sentiment,omitempty"`
		Tags      []string          `bson:"tags,omitempty"`
		CreatedAt time.Time         `bson:"created_at"`
	}

	measurementDoc struct {
		ID           bson.ObjectID      `bson:"_id,omitempty"`
		UserID       string             `bson:"user_id"`
		WeightKg     float64            `bson:"weight_kg"`
		BodyFatPct   float64            `bson:"body_fat_pct"`
		Measurements map[string]float64 `bson:"measurements,omitempty"`
		MeasuredAt   time.Time          `bson:"measured_at"`
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
		mongo:        opts.Client,
		meals:        db.Collection("meals"),
		activities:   db.Collection("activities"),
		workouts:     db.Collection("workouts"),
		notes:        db.Collection("notes"),
		measurements: db.Collection("measurements"),
		timeout:      timeout,
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Name identifies the store for health checks.
func (s *Store) Name() string { return entriesClientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// InsertMeal persists the meal and returns its assigned id.
func (s *Store) InsertMeal(ctx context.Context, m *entry.Meal) (string, error) {
	if m.UserID == "" {
		return "", errors.New("user id is required")
	}
	doc := mealDoc{
		ID:                bson.NewObjectID(),
		UserID:            m.UserID,
		Name:              m.Name,
		MealType:          m.MealType,
		Calories:          m.Calories,
		ProteinG:          m.ProteinG,
		CarbsG:            m.CarbsG,
		FatG:              m.FatG,
		FiberG:            m.FiberG,
		SugarG:            m.SugarG,
		SodiumMg:          m.SodiumMg,
		Foods:             m.Foods,
		ImageURL:          m.ImageURL,
		Confidence:        m.ConfidenceScore,
		QualityScore:      m.QualityScore,
		MacroBalanceScore: m.MacroBalanceScore,
		GoalAdherence:     m.GoalAdherence,
		Tags:              m.Tags,
		LoggedAt:          m.LoggedAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.meals.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	m.ID = doc.ID.Hex()
	return m.ID, nil
}

// InsertActivity persists the activity and returns its assigned id.
func (s *Store) InsertActivity(ctx context.Context, a *entry.Activity) (string, error) {
	if a.UserID == "" {
		return "", errors.New("user id is required")
	}
	doc := activityDoc{
		ID:                 bson.NewObjectID(),
		UserID:             a.UserID,
		Name:               a.Name,
		ActivityType:       a.ActivityType,
		SportType:          a.SportType,
		ElapsedTimeSeconds: a.ElapsedTimeSeconds,
		MovingTimeSeconds:  a.MovingTimeSeconds,
		DistanceMeters:     a.DistanceMeters,
		Calories:           a.Calories,
		PerceivedExertion:  a.PerceivedExertion,
		Mood:               a.Mood,
		EnergyLevel:        a.EnergyLevel,
		Confidence:         a.ConfidenceScore,
		PerformanceScore:   a.PerformanceScore,
		RecoveryHours:      a.RecoveryHours,
		StartDate:          a.StartDate.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.activities.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	a.ID = doc.ID.Hex()
	return a.ID, nil
}

// InsertWorkout persists the workout and returns its assigned id.
func (s *Store) InsertWorkout(ctx context.Context, w *entry.Workout) (string, error) {
	if w.UserID == "" {
		return "", errors.New("user id is required")
	}
	exercises := make([]exerciseDoc, len(w.Exercises))
	for i, e := range w.Exercises {
		exercises[i] = exerciseDoc(e)
	}
	doc := workoutDoc{
		ID:              bson.NewObjectID(),
		UserID:          w.UserID,
		Notes:           w.Notes,
		DurationMinutes: w.DurationMinutes,
		Exercises:       exercises,
		VolumeLoad:      w.VolumeLoad,
		MuscleGroups:    w.MuscleGroups,
		RPE:             w.RPE,
		Mood:            w.Mood,
		Confidence:      w.ConfidenceScore,
		OverloadStatus:  w.OverloadStatus,
		RecoveryHours:   w.RecoveryHours,
		StartedAt:       w.StartedAt.UTC(),
		CompletedAt:     w.CompletedAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.workouts.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	w.ID = doc.ID.Hex()
	return w.ID, nil
}

// InsertNote persists the note and returns its assigned id.
func (s *Store) InsertNote(ctx context.Context, n *entry.Note) (string, error) {
	if n.UserID == "" {
		return "", errors.New("user id is required")
	}
	doc := noteDoc{
		ID:        bson.NewObjectID(),
		UserID:    n.UserID,
		Title:     n.Title,
		Content:   n.Content,
		Category:  n.Category,
		Sentiment: n.Sentiment,
		Tags:      n.Tags,
		CreatedAt: n.CreatedAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.notes.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	n.ID = doc.ID.Hex()
	return n.ID, nil
}

// InsertMeasurement persists the measurement and returns its assigned id.
func (s *Store) InsertMeasurement(ctx context.Context, m *entry.Measurement) (string, error) {
	if m.UserID == "" {
		return "", errors.New("user id is required")
	}
	doc := measurementDoc{
		ID:           bson.NewObjectID(),
		UserID:       m.UserID,
		WeightKg:     m.WeightKg,
		BodyFatPct:   m.BodyFatPct,
		Measurements: m.Measurements,
		MeasuredAt:   m.MeasuredAt.UTC(),
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.measurements.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	m.ID = doc.ID.Hex()
	return m.ID, nil
}

// RecentWorkouts returns up to limit workouts started after since, newest
// first.
func (s *Store) RecentWorkouts(ctx context.Context, userID string, since time.Time, limit int) ([]entry.Workout, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	filter := bson.M{
		"user_id":    userID,
		"started_at": bson.M{"$gte": since.UTC()},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.workouts.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []entry.Workout
	for cur.Next(ctx) {
		var doc workoutDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toWorkout())
	}
	return out, cur.Err()
}

// RecentActivities returns up to limit activities of the given type started
// after since, newest first.
func (s *Store) RecentActivities(ctx context.Context, userID, activityType string, since time.Time, limit int) ([]entry.Activity, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	filter := bson.M{
		"user_id":    userID,
		"start_date": bson.M{"$gte": since.UTC()},
	}
	if activityType != "" {
		filter["activity_type"] = activityType
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.activities.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "start_date", Value: -1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []entry.Activity
	for cur.Next(ctx) {
		var doc activityDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toActivity())
	}
	return out, cur.Err()
}

// MealsLoggedOn returns the meals logged on the given UTC calendar day.
func (s *Store) MealsLoggedOn(ctx context.Context, userID string, day time.Time) ([]entry.Meal, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	filter := bson.M{
		"user_id":   userID,
		"logged_at": bson.M{"$gte": start, "$lt": start.Add(24 * time.Hour)},
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cur, err := s.meals.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "logged_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []entry.Meal
	for cur.Next(ctx) {
		var doc mealDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toMeal())
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

func (doc mealDoc) toMeal() entry.Meal {
	return entry.Meal{
		ID:                doc.ID.Hex(),
		UserID:            doc.UserID,
		Name:              doc.Name,
		MealType:          doc.MealType,
		Calories:          doc.Calories,
		ProteinG:          doc.ProteinG,
		CarbsG:            doc.CarbsG,
		FatG:              doc.FatG,
		FiberG:            doc.FiberG,
		SugarG:            doc.SugarG,
		SodiumMg:          doc.SodiumMg,
		Foods:             doc.Foods,
		ImageURL:          doc.ImageURL,
		ConfidenceScore:   doc.Confidence,
		QualityScore:      doc.QualityScore,
		MacroBalanceScore: doc.MacroBalanceScore,
		GoalAdherence:     doc.GoalAdherence,
		Tags:              doc.Tags,
		LoggedAt:          doc.LoggedAt,
	}
}

func (doc activityDoc) toActivity() entry.Activity {
	return entry.Activity{
		ID:                 doc.ID.Hex(),
		UserID:             doc.UserID,
		Name:               doc.Name,
		ActivityType:       doc.ActivityType,
		SportType:          doc.SportType,
		ElapsedTimeSeconds: doc.ElapsedTimeSeconds,
		MovingTimeSeconds:  doc.MovingTimeSeconds,
		DistanceMeters:     doc.DistanceMeters,
		Calories:           doc.Calories,
		PerceivedExertion:  doc.PerceivedExertion,
		Mood:               doc.Mood,
		EnergyLevel:        doc.EnergyLevel,
		ConfidenceScore:    doc.Confidence,
		PerformanceScore:   doc.PerformanceScore,
		RecoveryHours:      doc.RecoveryHours,
		StartDate:          doc.StartDate,
	}
}

func (doc workoutDoc) toWorkout() entry.Workout {
	exercises := make([]entry.Exercise, len(doc.Exercises))
	for i, e := range doc.Exercises {
		exercises[i] = entry.Exercise(e)
	}
	return entry.Workout{
		ID:              doc.ID.Hex(),
		UserID:          doc.UserID,
		Notes:           doc.Notes,
		DurationMinutes: doc.DurationMinutes,
		Exercises:       exercises,
		VolumeLoad:      doc.VolumeLoad,
		MuscleGroups:    doc.MuscleGroups,
		RPE:             doc.RPE,
		Mood:            doc.Mood,
		ConfidenceScore: doc.Confidence,
		OverloadStatus:  doc.OverloadStatus,
		RecoveryHours:   doc.RecoveryHours,
		StartedAt:       doc.StartedAt,
		CompletedAt:     doc.CompletedAt,
	}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	byUserTime := func(coll *mongodriver.Collection, timeField string) error {
		_, err := coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
			Keys: bson.D{
				{Key: "user_id", Value: 1},
				{Key: timeField, Value: -1},
			},
		})
		return err
	}
	if err := byUserTime(s.meals, "logged_at"); err != nil {
		return err
	}
	if err := byUserTime(s.activities, "start_date"); err != nil {
		return err
	}
	if err := byUserTime(s.workouts, "started_at"); err != nil {
		return err
	}
	if err := byUserTime(s.notes, "created_at"); err != nil {
		return err
	}
	return byUserTime(s.measurements, "measured_at")
}
