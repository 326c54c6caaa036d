package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"studyquiz/internal/logger"
	"studyquiz/internal/question"
)

// Outcomes reported to a Recorder.
const (
	OutcomeOK          = "ok"
	OutcomeLLMError    = "llm_error"
	OutcomeParseError  = "parse_error"
	OutcomeAllRejected = "all_rejected"
	OutcomeStoreError  = "store_error"
)

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type QuestionWriter interface {
	SaveQuestions(ctx context.Context, in []question.QuestionInput, opts question.SaveOptions) (*question.SaveResult, error)
}

// Recorder receives one outcome per pipeline run.
type Recorder interface {
	ObserveGeneration(outcome string)
}

type Result struct {
	GenerationID   string                   `json:"generation_id"`
	QuestionsSaved int                      `json:"questions_saved"`
	ChoicesSaved   int                      `json:"choices_saved"`
	Replaced       int64                    `json:"replaced"`
	NeedsReview    int                      `json:"needs_review"`
	Rejected       Rejections               `json:"rejected"`
	Questions      []question.SavedQuestion `json:"questions"`
}

type Service struct {
	llm      Generator
	writer   QuestionWriter
	log      *logger.Logger
	recorder Recorder
	shuffle  ShuffleFunc
	newID    func() string
	tracer   trace.Tracer
}

type Option func(*Service)

// WithShuffle replaces the random permutation used for label rebalancing.
func WithShuffle(fn ShuffleFunc) Option {
	return func(s *Service) { s.shuffle = fn }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(gen Generator, writer QuestionWriter, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		llm:    gen,
		writer: writer,
		log:    log,
		newID:  func() string { return uuid.NewString() },
		tracer: otel.Tracer("studyquiz/internal/generation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate runs one request through prompt, model call, normalization,
// validation and the transactional write. createdBy is stamped on every saved
// question when set. A request naming both genre and problem type replaces
// the stored questions of that pair.
func (s *Service) Generate(ctx context.Context, req Request, createdBy *int64) (Result, error) {
	req = req.normalized()
	genID := s.newID()

	ctx, span := s.tracer.Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("generation.id", genID),
		attribute.Int("generation.count", *req.Count),
	))
	defer span.End()

	log := s.log.With("generation_id", genID, "genre", req.Genre, "problem_type", req.ProblemType)

	res, outcome, err := s.run(ctx, log, req, genID, createdBy)
	if s.recorder != nil {
		s.recorder.ObserveGeneration(outcome)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		log.Warn("generation failed", "outcome", outcome, "error", err)
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("generation.questions_saved", res.QuestionsSaved),
		attribute.Int("generation.rejected", res.Rejected.Total()),
	)
	log.Info("generation saved",
		"questions_saved", res.QuestionsSaved,
		"choices_saved", res.ChoicesSaved,
		"replaced", res.Replaced,
		"rejected", res.Rejected.Total(),
		"needs_review", res.NeedsReview,
	)
	return res, nil
}

func (s *Service) run(ctx context.Context, log *logger.Logger, req Request, genID string, createdBy *int64) (Result, string, error) {
	prompt := BuildPrompt(req)
	text, err := s.llm.Generate(ctx, prompt)
	if err != nil {
		return Result{}, OutcomeLLMError, fmt.Errorf("call llm: %w", err)
	}
	log.Debug("llm completion received", "bytes", len(text))

	candidates, err := Normalize(text, req.Genre, req.ProblemType, s.shuffle)
	if err != nil {
		return Result{}, OutcomeParseError, err
	}

	accepted, rejected, err := Validate(candidates)
	if err != nil {
		if errors.Is(err, ErrAllRejected) {
			return Result{}, OutcomeAllRejected, fmt.Errorf("%w (%s)", err, rejected)
		}
		return Result{}, OutcomeAllRejected, err
	}
	if rejected.Total() > 0 {
		log.Info("dropped generated questions", "rejected", rejected.String())
	}

	inputs := make([]question.QuestionInput, 0, len(accepted))
	needsReview := 0
	for _, c := range accepted {
		if c.NeedsReview {
			needsReview++
		}
		inputs = append(inputs, toInput(c))
	}

	opts := question.SaveOptions{
		AllowAutoID:  true,
		ReturnSaved:  true,
		CreatedBy:    createdBy,
		GenerationID: genID,
	}
	if domain, topic, ok := req.replaceScope(); ok {
		opts.Replace = &question.TopicKey{DomainName: domain, TopicName: topic}
	}

	saved, err := s.writer.SaveQuestions(ctx, inputs, opts)
	if err != nil {
		return Result{}, OutcomeStoreError, fmt.Errorf("save generated questions: %w", err)
	}

	questions := saved.Questions
	if questions == nil {
		questions = make([]question.SavedQuestion, 0)
	}
	return Result{
		GenerationID:   genID,
		QuestionsSaved: saved.QuestionsSaved,
		ChoicesSaved:   saved.ChoicesSaved,
		Replaced:       saved.Replaced,
		NeedsReview:    needsReview,
		Rejected:       rejected,
		Questions:      questions,
	}, OutcomeOK, nil
}

func toInput(c Candidate) question.QuestionInput {
	domain, topic, title, stem := c.DomainName, c.TopicName, c.Title, c.Stem
	in := question.QuestionInput{
		DomainName:   &domain,
		TopicName:    &topic,
		Title:        &title,
		Stem:         &stem,
		Explanation:  c.Explanation,
		CorrectLabel: c.CorrectLabel,
		NeedsReview:  c.NeedsReview,
		Choices:      make([]question.ChoiceInput, 0, len(c.Choices)),
	}
	for _, ch := range c.Choices {
		label, text := ch.Label, ch.Text
		in.Choices = append(in.Choices, question.ChoiceInput{Label: &label, Text: &text})
	}
	return in
}
