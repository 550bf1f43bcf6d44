package consult

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/fitcoach-ai/fitcoach/fault"
	"github.com/fitcoach-ai/fitcoach/memory"
	"github.com/fitcoach-ai/fitcoach/model"
	"github.com/fitcoach-ai/fitcoach/nutrition"
	"github.com/fitcoach-ai/fitcoach/profile"
	"github.com/fitcoach-ai/fitcoach/recommend"
	"github.com/fitcoach-ai/fitcoach/router"
	"github.com/fitcoach-ai/fitcoach/worker"
)

const (
	// extractionConfidence is assigned to every persisted extraction. The
	// model is asked only for facts the user stated, so confidence is fixed
	// rather than model-reported.
	extractionConfidence = 0.85

	// contextTail is how many trailing messages feed extraction and the next
	// question.
	contextTail = 4

	// advanceEvery is the user-message cadence for stage transitions.
	advanceEvery = 3

	// summarizeAfter is the user-message count past which a background
	// conversation summary is requested.
	summarizeAfter = 20
)

type (
	// Models is the slice of the model router the engine needs.
	Models interface {
		Complete(ctx context.Context, task router.TaskConfig, msgs []*model.Message) (*model.Response, error)
	}

	// Vectorizer writes consultation summaries into semantic memory.
	Vectorizer interface {
		VectorizeText(ctx context.Context, in memory.VectorizeInput, text string) (string, error)
	}

	// ProgramGenerator builds a training program from consultation context.
	ProgramGenerator interface {
		GenerateProgram(ctx context.Context, userID, background string) (*recommend.Program, error)
	}

	// Options configures the engine.
	Options struct {
		// Store persists sessions, messages, and extractions. Required.
		Store Store
		// Models drives extraction and dialogue. Required.
		Models Models
		// Profiles receives the write-back on completion. Required.
		Profiles profile.Store
		// Memory vectorizes completed consultations. Optional; failures are
		// logged and swallowed either way.
		Memory Vectorizer
		// Programs generates a training program when complete requests one.
		// Optional.
		Programs ProgramGenerator
		// Tasks receives fire-and-forget analytics work after each turn.
		// Optional.
		Tasks worker.Engine
		// Clock overrides the time source, mainly for tests.
		Clock func() time.Time
	}

	// Service is the consultation engine.
	Service struct {
		store    Store
		models   Models
		profiles profile.Store
		memory   Vectorizer
		programs ProgramGenerator
		tasks    worker.Engine
		now      func() time.Time
	}

	// StartResult is the outcome of starting or resuming a session.
	StartResult struct {
		SessionID      string `json:"session_id"`
		SpecialistType string `json:"specialist_type"`
		Status         string `json:"status"`
		Progress       int    `json:"progress_percentage"`
		Question       string `json:"question"`
		Resumed        bool   `json:"resumed"`
	}

	// SendResult is the outcome of one dialogue turn.
	SendResult struct {
		Status            string                    `json:"status"`
		NextQuestion      string                    `json:"next_question,omitempty"`
		WrapUpMessage     string                    `json:"wrap_up_message,omitempty"`
		ExtractionSummary map[string]map[string]any `json:"extraction_summary,omitempty"`
		ExtractedData     map[string]map[string]any `json:"extracted_data,omitempty"`
		Progress          int                       `json:"progress_percentage"`
		IsComplete        bool                      `json:"is_complete"`
	}

	// CompleteResult is the outcome of completing a session.
	CompleteResult struct {
		SessionID string                    `json:"session_id"`
		Status    string                    `json:"status"`
		Summary   map[string]map[string]any `json:"summary"`
		ProgramID string                    `json:"program_id,omitempty"`
	}
)

// New builds a Service from the provided options.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("consult: store is required")
	}
	if opts.Models == nil {
		return nil, errors.New("consult: models are required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("consult: profile store is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:    opts.Store,
		models:   opts.Models,
		profiles: opts.Profiles,
		memory:   opts.Memory,
		programs: opts.Programs,
		tasks:    opts.Tasks,
		now:      now,
	}, nil
}

// Start begins a consultation, resuming the user's active session with the
// specialist when one exists.
func (s *Service) Start(ctx context.Context, userID, specialistType string) (*StartResult, error) {
	if userID == "" {
		return nil, fault.New(fault.KindInvalidInput, "user id is required")
	}
	if !ValidSpecialist(specialistType) {
		return nil, fault.New(fault.KindInvalidInput, "unknown specialist type %q", specialistType)
	}

	if active, err := s.store.ActiveSession(ctx, userID, specialistType); err == nil {
		question := s.lastAssistantMessage(ctx, active.ID)
		if question == "" {
			question = InitialQuestion(specialistType)
		}
		return &StartResult{
			SessionID:      active.ID,
			SpecialistType: specialistType,
			Status:         active.Status,
			Progress:       active.Progress,
			Question:       question,
			Resumed:        true,
		}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fault.Wrap(fault.KindInternal, err, "look up active session")
	}

	now := s.now().UTC()
	session := &Session{
		UserID:         userID,
		SpecialistType: specialistType,
		Status:         StatusActive,
		StageIndex:     0,
		Progress:       ProgressFor(specialistType, 0),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	id, err := s.store.CreateSession(ctx, session)
	if errors.Is(err, ErrActiveExists) {
		// Lost a race with a concurrent start; resume the winner.
		return s.Start(ctx, userID, specialistType)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "create session")
	}

	question := InitialQuestion(specialistType)
	if _, err := s.store.AppendMessage(ctx, &Message{
		SessionID: id,
		UserID:    userID,
		Role:      RoleAssistant,
		Content:   question,
		CreatedAt: now,
	}); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "persist initial question")
	}
	return &StartResult{
		SessionID:      id,
		SpecialistType: specialistType,
		Status:         StatusActive,
		Progress:       session.Progress,
		Question:       question,
	}, nil
}

// Send processes one user turn: append, extract, and either ask the next
// question or signal the session is ready to complete.
func (s *Service) Send(ctx context.Context, sessionID, userInput string) (*SendResult, error) {
	if strings.TrimSpace(userInput) == "" {
		return nil, fault.New(fault.KindInvalidInput, "message is empty")
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, fault.Wrap(fault.KindNotFound, err, "session %s", sessionID)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load session %s", sessionID)
	}
	if session.Status != StatusActive {
		return nil, fault.New(fault.KindPreconditionFailed, "session %s is %s", sessionID, session.Status)
	}

	now := s.now().UTC()
	if _, err := s.store.AppendMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    session.UserID,
		Role:      RoleUser,
		Content:   userInput,
		CreatedAt: now,
	}); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "append message")
	}
	session.TotalMessages++

	tail, err := s.store.Tail(ctx, sessionID, contextTail)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load conversation tail")
	}

	extracted := s.extract(ctx, session, tail)
	for _, category := range SummaryCategories(extracted) {
		if _, err := s.store.InsertExtraction(ctx, &Extraction{
			SessionID:  sessionID,
			UserID:     session.UserID,
			Category:   category,
			Data:       extracted[category],
			Confidence: extractionConfidence,
			CreatedAt:  now,
		}); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "persist extraction")
		}
	}

	if TerminalStage(session.SpecialistType, session.StageIndex) {
		session.Progress = 100
		session.UpdatedAt = now
		if err := s.store.UpdateSession(ctx, session); err != nil {
			return nil, fault.Wrap(fault.KindInternal, err, "update session")
		}
		summary, err := s.liveSummary(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		s.enqueueAnalytics(ctx, session)
		return &SendResult{
			Status:            "ready_to_complete",
			WrapUpMessage:     wrapUpMessage(session.SpecialistType),
			ExtractionSummary: summary,
			ExtractedData:     extracted,
			Progress:          100,
			IsComplete:        true,
		}, nil
	}

	question := s.nextQuestion(ctx, session, tail)
	if _, err := s.store.AppendMessage(ctx, &Message{
		SessionID: sessionID,
		UserID:    session.UserID,
		Role:      RoleAssistant,
		Content:   question,
		CreatedAt: now,
	}); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "append question")
	}

	if session.TotalMessages%advanceEvery == 0 && !TerminalStage(session.SpecialistType, session.StageIndex) {
		session.StageIndex++
	}
	session.Progress = ProgressFor(session.SpecialistType, session.StageIndex)
	session.UpdatedAt = now
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "update session")
	}
	s.enqueueAnalytics(ctx, session)

	return &SendResult{
		Status:        StatusActive,
		NextQuestion:  question,
		ExtractedData: extracted,
		Progress:      session.Progress,
		IsComplete:    false,
	}, nil
}

// Complete finalizes the session: collapse extractions, write the profile
// back, recalculate nutrition when possible, vectorize, and optionally
// generate a program. Idempotent: completing a completed session returns the
// cached summary.
func (s *Service) Complete(ctx context.Context, sessionID string, generateProgram bool) (*CompleteResult, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, fault.Wrap(fault.KindNotFound, err, "session %s", sessionID)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load session %s", sessionID)
	}
	if session.Status == StatusCompleted {
		return &CompleteResult{
			SessionID: sessionID,
			Status:    StatusCompleted,
			Summary:   session.Summary,
		}, nil
	}
	if !TerminalStage(session.SpecialistType, session.StageIndex) {
		return nil, fault.New(fault.KindPreconditionFailed,
			"session %s is at stage %s, not ready to complete",
			sessionID, StageName(session.SpecialistType, session.StageIndex))
	}

	extractions, err := s.store.Extractions(ctx, sessionID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load extractions")
	}
	summary := Collapse(extractions)

	if err := s.writeBackProfile(ctx, session.UserID, summary); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session.Status = StatusCompleted
	session.Progress = 100
	session.Summary = summary
	session.UpdatedAt = now
	session.CompletedAt = now
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "complete session")
	}

	s.vectorizeSummary(ctx, session, summary)

	result := &CompleteResult{
		SessionID: sessionID,
		Status:    StatusCompleted,
		Summary:   summary,
	}
	if generateProgram && s.programs != nil {
		p, err := s.programs.GenerateProgram(ctx, session.UserID, summaryText(session.SpecialistType, summary))
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "program generation failed"},
				log.KV{K: "session_id", V: sessionID},
				log.KV{K: "err", V: err.Error()})
		} else {
			result.ProgramID = p.ID
		}
	}
	return result, nil
}

// Abandon marks an active session abandoned, freeing the user's slot with
// the specialist. Extractions are kept but never written back to the profile.
// Abandoning an already abandoned session is a no-op.
func (s *Service) Abandon(ctx context.Context, sessionID string) error {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return fault.Wrap(fault.KindNotFound, err, "session %s", sessionID)
	}
	if err != nil {
		return fault.Wrap(fault.KindInternal, err, "load session %s", sessionID)
	}
	switch session.Status {
	case StatusAbandoned:
		return nil
	case StatusCompleted:
		return fault.New(fault.KindPreconditionFailed, "session %s is already completed", sessionID)
	}
	session.Status = StatusAbandoned
	session.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return fault.Wrap(fault.KindInternal, err, "abandon session")
	}
	return nil
}

// Summary returns the session's collapsed extraction data so far.
func (s *Service) Summary(ctx context.Context, sessionID string) (map[string]map[string]any, error) {
	if _, err := s.store.GetSession(ctx, sessionID); errors.Is(err, ErrNotFound) {
		return nil, fault.Wrap(fault.KindNotFound, err, "session %s", sessionID)
	} else if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load session %s", sessionID)
	}
	return s.liveSummary(ctx, sessionID)
}

// Status returns the session's current state.
func (s *Service) Status(ctx context.Context, sessionID string) (*Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return nil, fault.Wrap(fault.KindNotFound, err, "session %s", sessionID)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load session %s", sessionID)
	}
	return session, nil
}

// ActiveSession returns the user's active session with the specialist.
func (s *Service) ActiveSession(ctx context.Context, userID, specialistType string) (*Session, error) {
	session, err := s.store.ActiveSession(ctx, userID, specialistType)
	if errors.Is(err, ErrNotFound) {
		return nil, fault.Wrap(fault.KindNotFound, err, "no active %s session", specialistType)
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "look up active session")
	}
	return session, nil
}

func (s *Service) liveSummary(ctx context.Context, sessionID string) (map[string]map[string]any, error) {
	extractions, err := s.store.Extractions(ctx, sessionID)
	if err != nil {
		return nil, fault.Wrap(fault.KindInternal, err, "load extractions")
	}
	return Collapse(extractions), nil
}

// extract asks the model for structured facts in the tail. Failures degrade
// to an empty extraction; the dialogue must not stall on a flaky model.
func (s *Service) extract(ctx context.Context, session *Session, tail []Message) map[string]map[string]any {
	sp := specialists[session.SpecialistType]
	prompt := fmt.Sprintf(`Extract facts the user stated in this consultation excerpt. Respond with JSON only: an object whose keys are categories from [%s] and whose values are flat objects of extracted fields. Omit categories with nothing stated. Use snake_case field names; for measurements use weight_kg, height_cm, age, biological_sex, body_fat_pct; for goals use primary_goal, target_weight_kg, training_frequency; for preferences use equipment_access, dietary_restrictions, preferred_activities.

Conversation:
%s`, strings.Join(sp.categories, ", "), transcript(tail))

	resp, err := s.models.Complete(ctx, router.TaskConfig{
		Type:               router.TaskStructuredOutput,
		RequiresJSON:       true,
		PrioritizeAccuracy: true,
	}, []*model.Message{model.UserMessage(prompt)})
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "extraction failed"},
			log.KV{K: "session_id", V: session.ID},
			log.KV{K: "err", V: err.Error()})
		return nil
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal([]byte(resp.Content), &raw); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "extraction response is not json"},
			log.KV{K: "session_id", V: session.ID})
		return nil
	}
	allowed := make(map[string]bool, len(sp.categories))
	for _, c := range sp.categories {
		allowed[c] = true
	}
	out := make(map[string]map[string]any)
	for category, data := range raw {
		if allowed[category] && len(data) > 0 {
			out[category] = data
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// nextQuestion asks the model for the next dialogue turn, degrading to a
// canned stage prompt on failure.
func (s *Service) nextQuestion(ctx context.Context, session *Session, tail []Message) string {
	sp := specialists[session.SpecialistType]
	stage := StageName(session.SpecialistType, session.StageIndex)
	prompt := fmt.Sprintf(`You are %s. The consultation is in the %q stage. Given the conversation below, ask the single most useful next question. Respond with the question only.

Conversation:
%s`, sp.persona, stage, transcript(tail))

	resp, err := s.models.Complete(ctx, router.TaskConfig{
		Type:            router.TaskRealTimeChat,
		PrioritizeSpeed: true,
	}, []*model.Message{model.UserMessage(prompt)})
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "next question failed, using canned prompt"},
				log.KV{K: "session_id", V: session.ID},
				log.KV{K: "err", V: err.Error()})
		}
		return fmt.Sprintf("Tell me more about your %s.", strings.ReplaceAll(stage, "_", " "))
	}
	return strings.TrimSpace(resp.Content)
}

// writeBackProfile folds the summary's canonical fields into the profile and
// recalculates nutrition targets when the measurements suffice.
func (s *Service) writeBackProfile(ctx context.Context, userID string, summary map[string]map[string]any) error {
	prof, err := s.profiles.Get(ctx, userID)
	if errors.Is(err, profile.ErrNotFound) {
		prof = &profile.Profile{UserID: userID}
	} else if err != nil {
		return fault.Wrap(fault.KindInternal, err, "load profile")
	}

	if m, ok := summary[CategoryMeasurements]; ok {
		if v, ok := asFloat(m["weight_kg"]); ok {
			prof.Measurements.WeightKg = v
		}
		if v, ok := asFloat(m["height_cm"]); ok {
			prof.Measurements.HeightCm = v
		}
		if v, ok := asFloat(m["age"]); ok {
			prof.Measurements.Age = int(v)
		}
		if v, ok := m["biological_sex"].(string); ok {
			prof.Measurements.BiologicalSex = nutrition.Sex(v)
		}
		if v, ok := asFloat(m["body_fat_pct"]); ok {
			prof.Measurements.BodyFatPct = v
		}
	}
	if g, ok := summary[CategoryGoals]; ok {
		if v, ok := g["primary_goal"].(string); ok && v != "" {
			prof.Goals.PrimaryGoal = v
		}
		if v, ok := asFloat(g["target_weight_kg"]); ok {
			prof.Goals.TargetWeightKg = v
		}
		if v, ok := asFloat(g["training_frequency"]); ok {
			prof.Goals.TrainingFrequency = int(v)
		}
	}
	if p, ok := summary[CategoryPreferences]; ok {
		if v, ok := p["equipment_access"].(string); ok && v != "" {
			prof.Preferences.EquipmentAccess = v
		}
		if v, ok := asStrings(p["dietary_restrictions"]); ok {
			prof.Preferences.DietaryRestrictions = v
		}
		if v, ok := asStrings(p["preferred_activities"]); ok {
			prof.Preferences.PreferredActivities = v
		}
	}

	if prof.Measurements.Complete() {
		bmr, err := nutrition.BMR(prof.Measurements.WeightKg, prof.Measurements.HeightCm,
			prof.Measurements.Age, prof.Measurements.BiologicalSex)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "nutrition calculation skipped"},
				log.KV{K: "user_id", V: userID},
				log.KV{K: "err", V: err.Error()})
		} else {
			level := nutrition.ActivityFromTrainingFrequency(prof.Goals.TrainingFrequency)
			tdee := nutrition.TDEE(bmr, level)
			prof.Nutrition = &profile.NutritionTargets{
				BMR:          bmr,
				TDEE:         tdee,
				Daily:        nutrition.Plan(tdee, prof.Measurements.WeightKg, profile.NormalizeGoal(prof.Goals.PrimaryGoal)),
				CalculatedAt: s.now().UTC(),
			}
		}
	}

	prof.UpdatedAt = s.now().UTC()
	if err := s.profiles.Upsert(ctx, prof); err != nil {
		return fault.Wrap(fault.KindInternal, err, "write back profile")
	}
	return nil
}

// vectorizeSummary writes each category plus the full summary into semantic
// memory. Failures are logged and swallowed: memory is an index, not the
// source of truth.
func (s *Service) vectorizeSummary(ctx context.Context, session *Session, summary map[string]map[string]any) {
	if s.memory == nil || len(summary) == 0 {
		return
	}
	in := memory.VectorizeInput{
		UserID:     session.UserID,
		SourceType: memory.SourceConsultation,
		SourceID:   session.ID,
		Confidence: extractionConfidence,
	}
	for _, category := range SummaryCategories(summary) {
		in.Metadata = map[string]any{
			"specialist_type": session.SpecialistType,
			"category":        category,
		}
		if _, err := s.memory.VectorizeText(ctx, in, categoryText(category, summary[category])); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "consultation vectorization failed"},
				log.KV{K: "session_id", V: session.ID},
				log.KV{K: "category", V: category},
				log.KV{K: "err", V: err.Error()})
		}
	}
	in.Metadata = map[string]any{
		"specialist_type": session.SpecialistType,
		"category":        "summary",
	}
	if _, err := s.memory.VectorizeText(ctx, in, summaryText(session.SpecialistType, summary)); err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "consultation vectorization failed"},
			log.KV{K: "session_id", V: session.ID},
			log.KV{K: "err", V: err.Error()})
	}
}

// enqueueAnalytics schedules title, counters and, for long sessions, a
// background summary. Best-effort: dropped tasks are rebuilt on the next turn.
func (s *Service) enqueueAnalytics(ctx context.Context, session *Session) {
	if s.tasks == nil {
		return
	}
	payload := map[string]any{"session_id": session.ID}
	task, err := worker.NewTask(worker.TaskUpdateConversationAnalytics, payload)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "build analytics task"})
		return
	}
	s.tasks.TryEnqueue(ctx, task)
	if session.TotalMessages > summarizeAfter {
		task, err := worker.NewTask(worker.TaskSummarizeConversation, payload)
		if err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "build summarize task"})
			return
		}
		s.tasks.TryEnqueue(ctx, task)
	}
}

func (s *Service) lastAssistantMessage(ctx context.Context, sessionID string) string {
	tail, err := s.store.Tail(ctx, sessionID, contextTail)
	if err != nil {
		return ""
	}
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i].Role == RoleAssistant {
			return tail[i].Content
		}
	}
	return ""
}

func wrapUpMessage(specialistType string) string {
	return fmt.Sprintf("That covers everything I need. I'll fold what you shared into your profile%s. Ready when you are to wrap up.",
		map[string]string{
			SpecialistUnifiedCoach: " and build your plan",
		}[specialistType])
}

func transcript(msgs []Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// categoryText flattens one category's fields into an embeddable sentence.
func categoryText(category string, data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", strings.ReplaceAll(k, "_", " "), data[k]))
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(category, "_", " "), strings.Join(parts, "; "))
}

func summaryText(specialistType string, summary map[string]map[string]any) string {
	lines := []string{fmt.Sprintf("Consultation with %s.", strings.ReplaceAll(specialistType, "_", " "))}
	for _, category := range SummaryCategories(summary) {
		lines = append(lines, categoryText(category, summary[category]))
	}
	return strings.Join(lines, "\n")
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asStrings(v any) ([]string, bool) {
	switch vs := v.(type) {
	case []string:
		return vs, true
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
