package entry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/enrich"
	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/memory"
	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/nutrition"
	"github.com/fitcoach-ai/fitcoach/objstore"
	"github.com/fitcoach-ai/fitcoach/pattern"
	"github.com/fitcoach-ai/fitcoach/pdfx"
	"github.com/fitcoach-ai/fitcoach/profile"
	"github.com/fitcoach-ai/fitcoach/router"
	"github.com/fitcoach-ai/fitcoach/worker"
)

const failedSentinel = "FAILED"

// classificationSchema constrains the model's classification response.
const classificationSchema = `{
	"type": "object",
	"required": ["type", "confidence"],
	"properties": {
		"type": {"enum": ["meal", "activity", "workout", "measurement", "note", "unknown"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"data": {"type": "object"},
		"suggestions": {"type": "array", "items": {"type": "string"}}
	}
}`

type (
	// Models is the slice of the model router the pipeline needs.
	Models interface {
		Complete(ctx context.Context, task router.TaskConfig, msgs []*model.Message) (*model.Response, error)
		Describe(ctx context.Context, image []byte, prompt string) (string, error)
		Transcribe(ctx context.Context, audio []byte, format string) (string, error)
	}

	// Searcher retrieves similar past entries for pattern priors.
	Searcher interface {
		SearchSimilarEntries(ctx context.Context, userID, queryText string, sourceType memory.SourceType, limit int, recencyWeight, similarityThreshold float64) ([]memory.ScoredMatch, error)
	}

	// Options configures the pipeline.
	Options struct {
		// Models routes extraction and classification calls. Required.
		Models Models
		// Store persists typed entries. Required.
		Store Store
		// Profiles supplies nutrition targets for meal enrichment. Optional.
		Profiles profile.Store
		// Memory retrieves similar past entries for classification priors.
		// Optional.
		Memory Searcher
		// Objects stores uploaded images. Optional; images are skipped without it.
		Objects objstore.Store
		// Tasks receives fire-and-forget vectorization work. Optional.
		Tasks worker.Engine
		// Backlog catches vectorization tasks the engine dropped so a
		// scheduled drain can re-submit them. Optional.
		Backlog worker.Backlog
		// ImageBucket is the object-store bucket for entry media. Defaults to
		// "entry-media".
		ImageBucket string
		// Clock overrides the time source, mainly for tests.
		Clock func() time.Time
	}

	// Pipeline classifies and persists quick entries.
	Pipeline struct {
		models    Models
		store     Store
		profiles  profile.Store
		mem       Searcher
		objects   objstore.Store
		tasks     worker.Engine
		backlog   worker.Backlog
		sentiment *enrich.SentimentAnalyzer
		bucket    string
		schema    *jsonschema.Schema
		now       func() time.Time
	}

	// Input is the raw material of one quick entry. At least one of Text,
	// Image, Audio or PDF must be set.
	Input struct {
		UserID      string
		Text        string
		Image       []byte
		ImageMime   string
		Audio       []byte
		AudioFormat string
		PDF         []byte
		// ManualType fixes the entry type and skips the confidence gate.
		ManualType string
		Metadata   map[string]any
	}

	// Classification is the preview result returned before anything is
	// persisted.
	Classification struct {
		Type          string         `json:"type"`
		Confidence    float64        `json:"confidence"`
		Data          map[string]any `json:"data"`
		Suggestions   []string       `json:"suggestions,omitempty"`
		ExtractedText string         `json:"extracted_text"`
		ManualType    bool           `json:"manual_type,omitempty"`
	}

	// ConfirmInput persists a previously previewed classification.
	ConfirmInput struct {
		UserID        string
		EntryType     string
		Data          map[string]any
		OriginalText  string
		ExtractedText string
		Confidence    float64
		Image         []byte
		ImageMime     string
	}
)

// NewPipeline builds a Pipeline from the provided options.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Models == nil {
		return nil, errors.New("entry: models are required")
	}
	if opts.Store == nil {
		return nil, errors.New("entry: store is required")
	}
	bucket := opts.ImageBucket
	if bucket == "" {
		bucket = "entry-media"
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	var doc any
	if err := json.Unmarshal([]byte(classificationSchema), &doc); err != nil {
		return nil, fmt.Errorf("entry: unmarshal classification schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("classification.json", doc); err != nil {
		return nil, fmt.Errorf("entry: add classification schema: %w", err)
	}
	schema, err := c.Compile("classification.json")
	if err != nil {
		return nil, fmt.Errorf("entry: compile classification schema: %w", err)
	}
	return &Pipeline{
		models:    opts.Models,
		store:     opts.Store,
		profiles:  opts.Profiles,
		mem:       opts.Memory,
		objects:   opts.Objects,
		tasks:     opts.Tasks,
		backlog:   opts.Backlog,
		sentiment: enrich.NewSentimentAnalyzer(opts.Models),
		bucket:    bucket,
		schema:    schema,
		now:       now,
	}, nil
}

// Preview extracts and classifies the input without persisting anything.
func (p *Pipeline) Preview(ctx context.Context, in Input) (*Classification, error) {
	if in.UserID == "" {
		return nil, fault.New(fault.KindInvalidInput, "user id is required")
	}
	if in.Text == "" && len(in.Image) == 0 && len(in.Audio) == 0 && len(in.PDF) == 0 {
		return nil, fault.New(fault.KindInvalidInput, "at least one of text, image, audio or pdf is required")
	}
	if in.ManualType != "" && !ValidType(in.ManualType) {
		return nil, fault.New(fault.KindInvalidInput, "unknown entry type %q", in.ManualType)
	}

	extracted := p.extract(ctx, in)
	if strings.TrimSpace(stripSentinels(extracted)) == "" {
		return nil, fault.New(fault.KindUpstreamUnavailable, "all extraction branches failed")
	}

	prior := p.historicalPattern(ctx, in.UserID, in.ManualType, extracted)
	cls := p.classify(ctx, extracted, in.ManualType, prior)
	cls.ExtractedText = extracted
	if in.ManualType != "" {
		cls.Type = in.ManualType
		cls.Confidence = 1.0
		cls.ManualType = true
	}
	return cls, nil
}

// Confirm persists a classification as a typed entry and schedules its
// vectorization. Entries below the confidence gate without a manual type, and
// entries whose type is unknown, land in the note store tagged unclassified.
func (p *Pipeline) Confirm(ctx context.Context, in ConfirmInput) (string, error) {
	if in.UserID == "" {
		return "", fault.New(fault.KindInvalidInput, "user id is required")
	}
	entryType := in.EntryType
	if !ValidType(entryType) {
		entryType = TypeUnknown
	}
	if entryType == TypeUnknown {
		return p.persistUnclassified(ctx, in)
	}

	imageURL, imagePath := p.uploadImage(ctx, in)

	var (
		id  string
		err error
	)
	switch entryType {
	case TypeMeal:
		id, err = p.persistMeal(ctx, in, imageURL)
	case TypeActivity:
		id, err = p.persistActivity(ctx, in)
	case TypeWorkout:
		id, err = p.persistWorkout(ctx, in)
	case TypeNote:
		id, err = p.persistNote(ctx, in, nil)
	case TypeMeasurement:
		id, err = p.persistMeasurement(ctx, in)
	}
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, err, "persist %s entry", entryType)
	}

	p.enqueueVectorization(ctx, in, entryType, id, imageURL, imagePath)
	return id, nil
}

// Process is the one-shot preview-then-confirm path for trusted callers.
func (p *Pipeline) Process(ctx context.Context, in Input) (*Classification, string, error) {
	cls, err := p.Preview(ctx, in)
	if err != nil {
		return nil, "", err
	}
	entryType := cls.Type
	if !cls.ManualType && cls.Confidence < MinConfidence {
		entryType = TypeUnknown
	}
	id, err := p.Confirm(ctx, ConfirmInput{
		UserID:        in.UserID,
		EntryType:     entryType,
		Data:          cls.Data,
		OriginalText:  in.Text,
		ExtractedText: cls.ExtractedText,
		Confidence:    cls.Confidence,
		Image:         in.Image,
		ImageMime:     in.ImageMime,
	})
	if err != nil {
		return nil, "", err
	}
	return cls, id, nil
}

// extract runs all extraction branches concurrently and concatenates their
// results. A failed branch contributes a sentinel line instead of failing the
// call.
func (p *Pipeline) extract(ctx context.Context, in Input) string {
	const (
		sectionImage = iota
		sectionAudio
		sectionPDF
		sectionCount
	)
	sections := make([]string, sectionCount)
	var wg sync.WaitGroup
	if len(in.Image) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			desc, err := p.models.Describe(ctx, in.Image, "Describe this photo for a fitness log. Identify any food with portion estimates, or the exercise being performed.")
			if err != nil {
				log.Warn(ctx, log.KV{K: "msg", V: "image description failed"}, log.KV{K: "err", V: err.Error()})
				desc = failedSentinel
			}
			sections[sectionImage] = "Image: " + desc
		}()
	}
	if len(in.Audio) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			transcript, err := p.models.Transcribe(ctx, in.Audio, in.AudioFormat)
			if err != nil {
				log.Warn(ctx, log.KV{K: "msg", V: "audio transcription failed"}, log.KV{K: "err", V: err.Error()})
				transcript = failedSentinel
			}
			sections[sectionAudio] = "Audio: " + transcript
		}()
	}
	if len(in.PDF) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := pdfx.Extract(in.PDF)
			if err != nil {
				log.Warn(ctx, log.KV{K: "msg", V: "pdf extraction failed"}, log.KV{K: "err", V: err.Error()})
				text = failedSentinel
			}
			sections[sectionPDF] = "Document: " + text
		}()
	}
	wg.Wait()

	parts := make([]string, 0, sectionCount+1)
	if in.Text != "" {
		parts = append(parts, in.Text)
	}
	for _, s := range sections {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// historicalPattern retrieves similar past entries and summarizes them as a
// classification prior. With a manual type the search is filtered to the
// matching source type; without one it runs unfiltered and the prior is built
// from the dominant source type among the matches. Best-effort: any failure
// yields no prior.
func (p *Pipeline) historicalPattern(ctx context.Context, userID, manualType, extracted string) *pattern.Pattern {
	if p.mem == nil {
		return nil
	}
	var sourceType memory.SourceType
	if manualType != "" {
		sourceType = SourceTypeFor(manualType)
	}
	matches, err := p.mem.SearchSimilarEntries(ctx, userID, extracted, sourceType, 10, 0.3, 0.5)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "pattern retrieval failed"}, log.KV{K: "err", V: err.Error()})
		return nil
	}
	rows := make([]memory.Row, len(matches))
	for i, m := range matches {
		rows[i] = m.Row
	}
	if sourceType == "" {
		sourceType = dominantSourceType(rows)
		kept := rows[:0]
		for _, r := range rows {
			if r.SourceType == sourceType {
				kept = append(kept, r)
			}
		}
		rows = kept
	}
	return pattern.Analyze(sourceType, rows)
}

// dominantSourceType returns the most frequent source type among rows. Ties
// resolve to the type seen first, which is the one with the stronger matches
// since rows arrive sorted by blended score.
func dominantSourceType(rows []memory.Row) memory.SourceType {
	counts := make(map[memory.SourceType]int)
	var best memory.SourceType
	for _, r := range rows {
		counts[r.SourceType]++
		if counts[r.SourceType] > counts[best] {
			best = r.SourceType
		}
	}
	return best
}

// classify asks the model router to type the extracted text. Any failure
// degrades to an unknown classification so the entry can still be captured as
// a note.
func (p *Pipeline) classify(ctx context.Context, extracted, manualType string, prior *pattern.Pattern) *Classification {
	prompt := buildClassificationPrompt(extracted, manualType, prior)
	resp, err := p.models.Complete(ctx, router.TaskConfig{
		Type:               router.TaskStructuredOutput,
		RequiresJSON:       true,
		PrioritizeAccuracy: true,
	}, []*model.Message{model.UserMessage(prompt)})
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "classification call failed"}, log.KV{K: "err", V: err.Error()})
		return &Classification{Type: TypeUnknown, Data: map[string]any{}}
	}
	var doc any
	if err := json.Unmarshal([]byte(resp.Content), &doc); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "classification response is not JSON"}, log.KV{K: "err", V: err.Error()})
		return &Classification{Type: TypeUnknown, Data: map[string]any{}}
	}
	if err := p.schema.Validate(doc); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "classification response failed schema validation"}, log.KV{K: "err", V: err.Error()})
		return &Classification{Type: TypeUnknown, Data: map[string]any{}}
	}
	var cls Classification
	if err := json.Unmarshal([]byte(resp.Content), &cls); err != nil {
		return &Classification{Type: TypeUnknown, Data: map[string]any{}}
	}
	if cls.Data == nil {
		cls.Data = map[string]any{}
	}
	return &cls
}

func buildClassificationPrompt(extracted, manualType string, prior *pattern.Pattern) string {
	var b strings.Builder
	b.WriteString(`Classify this fitness log entry. Respond with JSON only:
{"type": "meal"|"activity"|"workout"|"measurement"|"note"|"unknown",
 "confidence": number in [0,1],
 "data": object with the extracted fields,
 "suggestions": [strings]}

Data fields by type:
- meal: name, meal_type (breakfast/lunch/dinner/snack), calories, protein_g, carbs_g, fat_g, fiber_g, sugar_g, sodium_mg, foods (array of strings)
- activity: name, activity_type, sport_type, elapsed_time_seconds, moving_time_seconds, distance_meters, calories, perceived_exertion (1-10), mood, energy_level (1-10)
- workout: notes, duration_minutes, exercises (array of {name, sets, reps, weight_kg}), rpe (1-10), mood
- measurement: weight_kg, body_fat_pct, measurements (map of site to cm)
- note: title, content, category

Estimate unstated nutrition values from typical portions.
`)
	if manualType != "" {
		fmt.Fprintf(&b, "\nThe user marked this entry as a %s; extract its fields.\n", manualType)
	}
	if prior != nil {
		b.WriteString("\nThe user's history for similar entries:\n")
		b.WriteString(prior.Describe())
		b.WriteString("\nBias estimates toward these values when the entry is vague.\n")
	}
	b.WriteString("\nEntry:\n")
	b.WriteString(extracted)
	return b.String()
}

// uploadImage stores the image and returns its public URL and object path.
// Best-effort: on failure the entry persists without a URL.
func (p *Pipeline) uploadImage(ctx context.Context, in ConfirmInput) (string, string) {
	if len(in.Image) == 0 || p.objects == nil {
		return "", ""
	}
	path := fmt.Sprintf("%s/entries/%s%s", in.UserID, uuid.NewString(), extensionFor(in.ImageMime))
	url, err := p.objects.Upload(ctx, p.bucket, path, in.Image, in.ImageMime)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "image upload failed"}, log.KV{K: "err", V: err.Error()})
		return "", ""
	}
	return url, path
}

func extensionFor(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/heic":
		return ".heic"
	default:
		return ".jpg"
	}
}

func (p *Pipeline) persistMeal(ctx context.Context, in ConfirmInput, imageURL string) (string, error) {
	d := in.Data
	n := enrich.MealNutrition{
		Calories: num(d, "calories"),
		ProteinG: num(d, "protein_g", "protein"),
		CarbsG:   num(d, "carbs_g", "carbs"),
		FatG:     num(d, "fat_g", "fat"),
		FiberG:   num(d, "fiber_g", "fiber"),
		SugarG:   num(d, "sugar_g", "sugar"),
		SodiumMg: num(d, "sodium_mg", "sodium"),
	}
	mealType := str(d, "meal_type", "category")
	e := enrich.EnrichMeal(n, mealType, p.dailyTargets(ctx, in.UserID))
	m := &Meal{
		UserID:            in.UserID,
		Name:              str(d, "name"),
		MealType:          mealType,
		Calories:          n.Calories,
		ProteinG:          n.ProteinG,
		CarbsG:            n.CarbsG,
		FatG:              n.FatG,
		FiberG:            n.FiberG,
		SugarG:            n.SugarG,
		SodiumMg:          n.SodiumMg,
		Foods:             strSlice(d, "foods"),
		ImageURL:          imageURL,
		ConfidenceScore:   in.Confidence,
		QualityScore:      e.QualityScore,
		MacroBalanceScore: e.MacroBalanceScore,
		GoalAdherence:     e.GoalAdherence,
		Tags:              e.Tags,
		LoggedAt:          p.now(),
	}
	return p.store.InsertMeal(ctx, m)
}

// dailyTargets loads the user's macro targets for goal-adherence scoring.
// Missing profiles or targets are normal for new users.
func (p *Pipeline) dailyTargets(ctx context.Context, userID string) *nutrition.Macros {
	if p.profiles == nil {
		return nil
	}
	prof, err := p.profiles.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			log.Warn(ctx, log.KV{K: "msg", V: "profile lookup failed"}, log.KV{K: "err", V: err.Error()})
		}
		return nil
	}
	if prof.Nutrition == nil {
		return nil
	}
	daily := prof.Nutrition.Daily
	return &daily
}

func (p *Pipeline) persistActivity(ctx context.Context, in ConfirmInput) (string, error) {
	d := in.Data
	a := &Activity{
		UserID:             in.UserID,
		Name:               str(d, "name"),
		ActivityType:       str(d, "activity_type", "type"),
		SportType:          str(d, "sport_type"),
		ElapsedTimeSeconds: num(d, "elapsed_time_seconds", "duration_seconds"),
		MovingTimeSeconds:  num(d, "moving_time_seconds"),
		DistanceMeters:     num(d, "distance_meters", "distance"),
		Calories:           num(d, "calories"),
		PerceivedExertion:  num(d, "perceived_exertion", "rpe"),
		Mood:               str(d, "mood"),
		EnergyLevel:        num(d, "energy_level"),
		ConfidenceScore:    in.Confidence,
		StartDate:          p.now(),
	}
	if a.MovingTimeSeconds == 0 {
		a.MovingTimeSeconds = a.ElapsedTimeSeconds
	}
	a.PerformanceScore = p.activityPerformance(ctx, in.UserID, a)
	a.RecoveryHours = enrich.RecoveryHours(enrich.SessionActivity, a.PerceivedExertion, 0, 0)
	return p.store.InsertActivity(ctx, a)
}

// activityPerformance scores the session pace against up to 10 same-type
// sessions from the prior two weeks.
func (p *Pipeline) activityPerformance(ctx context.Context, userID string, a *Activity) float64 {
	pace := enrich.Pace(a.MovingTimeSeconds, a.DistanceMeters)
	since := p.now().AddDate(0, 0, -14)
	history, err := p.store.RecentActivities(ctx, userID, a.ActivityType, since, 10)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "activity history lookup failed"}, log.KV{K: "err", V: err.Error()})
		return enrich.ActivityPerformanceScore(pace, nil)
	}
	paces := make([]float64, 0, len(history))
	for _, h := range history {
		if hp := enrich.Pace(h.MovingTimeSeconds, h.DistanceMeters); hp > 0 {
			paces = append(paces, hp)
		}
	}
	return enrich.ActivityPerformanceScore(pace, paces)
}

func (p *Pipeline) persistWorkout(ctx context.Context, in ConfirmInput) (string, error) {
	d := in.Data
	exercises := parseExercises(d["exercises"])
	volume := VolumeLoad(exercises)
	groups := MuscleGroups(exercises)
	now := p.now()
	w := &Workout{
		UserID:          in.UserID,
		Notes:           firstNonEmpty(str(d, "notes", "name"), in.ExtractedText),
		DurationMinutes: num(d, "duration_minutes", "duration"),
		Exercises:       exercises,
		VolumeLoad:      volume,
		MuscleGroups:    groups,
		RPE:             num(d, "rpe", "perceived_exertion"),
		Mood:            str(d, "mood"),
		ConfidenceScore: in.Confidence,
		StartedAt:       now.Add(-time.Duration(num(d, "duration_minutes", "duration")) * time.Minute),
		CompletedAt:     now,
	}
	w.OverloadStatus = p.overloadStatus(ctx, in.UserID, volume)
	w.RecoveryHours = enrich.RecoveryHours(enrich.SessionWorkout, w.RPE, volume, len(groups))
	return p.store.InsertWorkout(ctx, w)
}

// overloadStatus compares the session volume to up to 10 workouts from the
// prior two weeks.
func (p *Pipeline) overloadStatus(ctx context.Context, userID string, volume float64) string {
	since := p.now().AddDate(0, 0, -14)
	history, err := p.store.RecentWorkouts(ctx, userID, since, 10)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "workout history lookup failed"}, log.KV{K: "err", V: err.Error()})
		return enrich.OverloadAbsent
	}
	loads := make([]float64, len(history))
	for i, h := range history {
		loads[i] = h.VolumeLoad
	}
	return enrich.ProgressiveOverload(volume, loads)
}

func (p *Pipeline) persistNote(ctx context.Context, in ConfirmInput, extraTags []string) (string, error) {
	d := in.Data
	content := firstNonEmpty(str(d, "content"), in.ExtractedText, in.OriginalText)
	sentiment := p.sentiment.AnalyzeNote(ctx, content)
	n := &Note{
		UserID:    in.UserID,
		Title:     firstNonEmpty(str(d, "title"), deriveTitle(content)),
		Content:   content,
		Category:  str(d, "category"),
		Sentiment: &sentiment,
		Tags:      append(strSlice(d, "tags"), extraTags...),
		CreatedAt: p.now(),
	}
	return p.store.InsertNote(ctx, n)
}

// persistUnclassified captures low-confidence input as a note so nothing the
// user logged is lost.
func (p *Pipeline) persistUnclassified(ctx context.Context, in ConfirmInput) (string, error) {
	id, err := p.persistNote(ctx, in, []string{"unclassified"})
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, err, "persist unclassified entry")
	}
	p.enqueueVectorization(ctx, in, TypeNote, id, "", "")
	return id, nil
}

func (p *Pipeline) persistMeasurement(ctx context.Context, in ConfirmInput) (string, error) {
	d := in.Data
	measurements := make(map[string]float64)
	if raw, ok := d["measurements"].(map[string]any); ok {
		for k, v := range raw {
			if f, ok := toFloat(v); ok {
				measurements[k] = f
			}
		}
	}
	m := &Measurement{
		UserID:       in.UserID,
		WeightKg:     num(d, "weight_kg", "weight"),
		BodyFatPct:   num(d, "body_fat_pct", "body_fat"),
		Measurements: measurements,
		MeasuredAt:   p.now(),
	}
	return p.store.InsertMeasurement(ctx, m)
}

// enqueueVectorization schedules embedding work for the persisted entry.
// Best-effort: a full queue or missing engine never fails the request. Tasks
// the engine drops go to the backlog when one is configured, where a
// scheduled drain picks them up.
func (p *Pipeline) enqueueVectorization(ctx context.Context, in ConfirmInput, entryType, entryID, imageURL, imagePath string) {
	if p.tasks == nil {
		return
	}
	sourceType := SourceTypeFor(entryType)
	metadata := map[string]any{
		"entry_type": entryType,
		"source_id":  entryID,
		"logged_at":  p.now().UTC().Format(time.RFC3339),
	}
	for k, v := range in.Data {
		switch v.(type) {
		case string, float64, bool, int:
			metadata[k] = v
		}
	}
	task, err := worker.NewTask(worker.TaskVectorizeEntry, map[string]any{
		"user_id":     in.UserID,
		"source_type": string(sourceType),
		"source_id":   entryID,
		"text":        in.ExtractedText,
		"confidence":  in.Confidence,
		"metadata":    metadata,
	})
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "build vectorization task"})
		return
	}
	p.submit(ctx, task, entryID)
	if len(in.Image) > 0 && imagePath != "" {
		imgTask, err := worker.NewTask(worker.TaskVectorizeImage, map[string]any{
			"user_id":         in.UserID,
			"source_type":     string(sourceType),
			"source_id":       entryID,
			"bucket":          p.bucket,
			"path":            imagePath,
			"storage_url":     imageURL,
			"file_size_bytes": len(in.Image),
			"mime_type":       in.ImageMime,
			"description":     in.ExtractedText,
		})
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "build image vectorization task"})
			return
		}
		p.submit(ctx, imgTask, entryID)
	}
}

// submit hands a task to the engine, spilling to the backlog when the engine
// is above its high-water mark.
func (p *Pipeline) submit(ctx context.Context, task worker.Task, entryID string) {
	if p.tasks.TryEnqueue(ctx, task) {
		return
	}
	if p.backlog == nil {
		log.Warn(ctx, log.KV{K: "msg", V: "vectorization task dropped"},
			log.KV{K: "kind", V: task.Kind},
			log.KV{K: "entry_id", V: entryID})
		return
	}
	if err := p.backlog.Push(ctx, task); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "backlog push failed"},
			log.KV{K: "kind", V: task.Kind},
			log.KV{K: "entry_id", V: entryID})
	}
}

// stripSentinels removes failure markers so emptiness checks see only real
// content.
func stripSentinels(s string) string {
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasSuffix(strings.TrimSpace(line), failedSentinel) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func deriveTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.IndexAny(content, ".!?\n"); idx > 0 {
		content = content[:idx]
	}
	const maxTitle = 60
	if len(content) > maxTitle {
		content = content[:maxTitle]
	}
	return content
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if f, ok := toFloat(m[k]); ok {
			return f
		}
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func strSlice(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func parseExercises(raw any) []Exercise {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]Exercise, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		e := Exercise{
			Name:     str(m, "name", "exercise"),
			WeightKg: num(m, "weight_kg", "weight"),
		}
		e.Sets = int(num(m, "sets"))
		e.Reps = int(num(m, "reps"))
		if e.Name == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}
