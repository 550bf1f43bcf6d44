// Package mongo persists user profiles in MongoDB, one document per user.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/fitcoach-ai/fitcoach/nutrition"
	"github.com/fitcoach-ai/fitcoach/profile"
)

const (
	defaultCollection  = "user_profiles"
	defaultOpTimeout   = 5 * time.Second
	profilesClientName = "profiles-mongo"
)

type (
	// Options configures the Mongo profile store.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	// Store implements profile.Store on MongoDB.
	Store struct {
		mongo   *mongodriver.Client
		coll    *mongodriver.Collection
		timeout time.Duration
	}

	document struct {
		UserID       string             `bson:"user_id"`
		Measurements measurementsDoc    `bson:"measurements"`
		Goals        goalsDoc           `bson:"goals"`
		Preferences  preferencesDoc     `bson:"preferences"`
		Nutrition    *nutritionDoc      `bson:"nutrition,omitempty"`
		UpdatedAt    time.Time          `bson:"updated_at"`
	}

	measurementsDoc struct {
		WeightKg      float64 `bson:"weight_kg,omitempty"`
		HeightCm      float64 `bson:"height_cm,omitempty"`
		Age           int     `bson:"age,omitempty"`
		BiologicalSex string  `bson:"biological_sex,omitempty"`
		BodyFatPct    float64 `bson:"body_fat_pct,omitempty"`
	}

	goalsDoc struct {
		PrimaryGoal       string  `bson:"primary_goal,omitempty"`
		TargetWeightKg    float64 `bson:"target_weight_kg,omitempty"`
		TrainingFrequency int     `bson:"training_frequency,omitempty"`
	}

	preferencesDoc struct {
		EquipmentAccess     string   `bson:"equipment_access,omitempty"`
		DietaryRestrictions []string `bson:"dietary_restrictions,omitempty"`
		PreferredActivities []string `bson:"preferred_activities,omitempty"`
	}

	nutritionDoc struct {
		BMR          float64   `bson:"bmr"`
		TDEE         float64   `bson:"tdee"`
		Calories     float64   `bson:"daily_calories"`
		ProteinG     float64   `bson:"daily_protein_g"`
		FatG         float64   `bson:"daily_fat_g"`
		CarbsG       float64   `bson:"daily_carbs_g"`
		CalculatedAt time.Time `bson:"calculated_at"`
	}
)

// New builds a Store and ensures its unique user index.
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
	coll := opts.Client.Database(opts.Database).Collection(collName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	idx := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

// Name identifies the store for health checks.
func (s *Store) Name() string { return profilesClientName }

// Ping verifies connectivity to the primary.
func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

// Get returns the user's profile or profile.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*profile.Profile, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc document
	if err := s.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, profile.ErrNotFound
		}
		return nil, err
	}
	return doc.toProfile(), nil
}

// UserIDs lists every user with a profile document.
func (s *Store) UserIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var ids []string
	if err := s.coll.Distinct(ctx, "user_id", bson.M{}).Decode(&ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Upsert replaces the user's profile document.
func (s *Store) Upsert(ctx context.Context, p *profile.Profile) error {
	if p == nil || p.UserID == "" {
		return errors.New("user id is required")
	}
	doc := fromProfile(p)
	doc.UpdatedAt = time.Now().UTC()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.ReplaceOne(ctx, bson.M{"user_id": p.UserID}, doc, options.Replace().SetUpsert(true))
	return err
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

func fromProfile(p *profile.Profile) document {
	doc := document{
		UserID: p.UserID,
		Measurements: measurementsDoc{
			WeightKg:      p.Measurements.WeightKg,
			HeightCm:      p.Measurements.HeightCm,
			Age:           p.Measurements.Age,
			BiologicalSex: string(p.Measurements.BiologicalSex),
			BodyFatPct:    p.Measurements.BodyFatPct,
		},
		Goals: goalsDoc{
			PrimaryGoal:       p.Goals.PrimaryGoal,
			TargetWeightKg:    p.Goals.TargetWeightKg,
			TrainingFrequency: p.Goals.TrainingFrequency,
		},
		Preferences: preferencesDoc{
			EquipmentAccess:     p.Preferences.EquipmentAccess,
			DietaryRestrictions: p.Preferences.DietaryRestrictions,
			PreferredActivities: p.Preferences.PreferredActivities,
		},
		UpdatedAt: p.UpdatedAt,
	}
	if p.Nutrition != nil {
		doc.Nutrition = &nutritionDoc{
			BMR:          p.Nutrition.BMR,
			TDEE:         p.Nutrition.TDEE,
			Calories:     p.Nutrition.Daily.Calories,
			ProteinG:     p.Nutrition.Daily.ProteinG,
			FatG:         p.Nutrition.Daily.FatG,
			CarbsG:       p.Nutrition.Daily.CarbsG,
			CalculatedAt: p.Nutrition.CalculatedAt.UTC(),
		}
	}
	return doc
}

func (doc document) toProfile() *profile.Profile {
	p := &profile.Profile{
		UserID: doc.UserID,
		Measurements: profile.Measurements{
			WeightKg:      doc.Measurements.WeightKg,
			HeightCm:      doc.Measurements.HeightCm,
			Age:           doc.Measurements.Age,
			BiologicalSex: nutrition.Sex(doc.Measurements.BiologicalSex),
			BodyFatPct:    doc.Measurements.BodyFatPct,
		},
		Goals: profile.Goals{
			PrimaryGoal:       doc.Goals.PrimaryGoal,
			TargetWeightKg:    doc.Goals.TargetWeightKg,
			TrainingFrequency: doc.Goals.TrainingFrequency,
		},
		Preferences: profile.Preferences{
			EquipmentAccess:     doc.Preferences.EquipmentAccess,
			DietaryRestrictions: doc.Preferences.DietaryRestrictions,
			PreferredActivities: doc.Preferences.PreferredActivities,
		},
		UpdatedAt: doc.UpdatedAt,
	}
	if doc.Nutrition != nil {
		p.Nutrition = &profile.NutritionTargets{
			BMR:  doc.Nutrition.BMR,
			TDEE: doc.Nutrition.TDEE,
			Daily: nutrition.Macros{
				Calories: doc.Nutrition.Calories,
				ProteinG: doc.Nutrition.ProteinG,
				FatG:     doc.Nutrition.FatG,
				CarbsG:   doc.Nutrition.CarbsG,
			},
			CalculatedAt: doc.Nutrition.CalculatedAt,
		}
	}
	return p
}
