package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrInvalidScope     = errors.New("invalid scope")
	ErrLoginRequired    = errors.New("login required")
	ErrQuestionNotFound = errors.New("question not found")
)

const (
	DefaultExamName = "study"

	ScopeMine   = "my"
	ScopeReview = "review"
)

type Service struct {
	db                *sql.DB
	reviewRecheckDays int
	now               func() time.Time
}

func NewService(db *sql.DB, reviewRecheckDays int) *Service {
	if reviewRecheckDays < 1 {
		reviewRecheckDays = 1
	}
	if reviewRecheckDays > 30 {
		reviewRecheckDays = 30
	}
	return &Service{db: db, reviewRecheckDays: reviewRecheckDays, now: time.Now}
}

type Choice struct {
	ChoiceID    int64  `json:"choice_id"`
	ChoiceLabel string `json:"choice_label"`
	ChoiceText  string `json:"choice_text"`
}

type Question struct {
	QuestionID   int64     `json:"question_id"`
	ExamName     string    `json:"exam_name"`
	DomainName   string    `json:"domain_name"`
	TopicName    string    `json:"topic_name"`
	Title        string    `json:"title"`
	Stem         string    `json:"stem"`
	Explanation  string    `json:"explanation"`
	CorrectLabel string    `json:"correct_label"`
	NeedsReview  bool      `json:"needs_review"`
	GenerationID *string   `json:"generation_id,omitempty"`
	CreatedBy    *int64    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	AnswersTotal int       `json:"answers_total"`
	CorrectRate  *float64  `json:"correct_rate"`
	Choices      []Choice  `json:"choices"`
}

type ListFilter struct {
	Domain string
	Topic  string
	Scope  string
	UserID *int64
}

type TopicSummary struct {
	TopicName     string `json:"topic_name"`
	QuestionCount int    `json:"question_count"`
}

type DomainSummary struct {
	DomainName    string         `json:"domain_name"`
	QuestionCount int            `json:"question_count"`
	Topics        []TopicSummary `json:"topics"`
}

// ListQuestions returns active questions with their choices and answer
// statistics, filtered by domain, topic and scope.
func (s *Service) ListQuestions(ctx context.Context, f ListFilter) ([]Question, error) {
	recheckBefore := s.now().Add(-time.Duration(s.reviewRecheckDays) * 24 * time.Hour)
	query, args, err := buildListQuery(f, recheckBefore)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	out := make([]Question, 0)
	index := map[int64]int{}
	for rows.Next() {
		var (
			q            Question
			generationID sql.NullString
			createdBy    sql.NullInt64
			choiceID     sql.NullInt64
			choiceLabel  sql.NullString
			choiceText   sql.NullString
			correctCount int
		)
		if err := rows.Scan(
			&q.QuestionID, &q.ExamName, &q.DomainName, &q.TopicName, &q.Title, &q.Stem, &q.Explanation,
			&q.CorrectLabel, &q.NeedsReview, &generationID, &createdBy, &q.CreatedAt,
			&choiceID, &choiceLabel, &choiceText,
			&correctCount, &q.AnswersTotal,
		); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		pos, ok := index[q.QuestionID]
		if !ok {
			if generationID.Valid {
				v := generationID.String
				q.GenerationID = &v
			}
			if createdBy.Valid {
				v := createdBy.Int64
				q.CreatedBy = &v
			}
			q.CorrectLabel = strings.TrimSpace(q.CorrectLabel)
			q.CorrectRate = percent(correctCount, q.AnswersTotal)
			q.Choices = make([]Choice, 0, 4)
			out = append(out, q)
			pos = len(out) - 1
			index[q.QuestionID] = pos
		}
		if choiceID.Valid {
			out[pos].Choices = append(out[pos].Choices, Choice{
				ChoiceID:    choiceID.Int64,
				ChoiceLabel: strings.TrimSpace(choiceLabel.String),
				ChoiceText:  choiceText.String,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}

// buildListQuery renders the list SQL. Scope "my" limits to the caller's
// questions; scope "review" further keeps questions whose latest answer is
// wrong, that were never answered, or that were answered correctly only
// once before recheckBefore.
func buildListQuery(f ListFilter, recheckBefore time.Time) (string, []any, error) {
	var (
		where []string
		joins []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if d := strings.TrimSpace(f.Domain); d != "" {
		where = append(where, "q.domain_name = "+arg(d))
	}
	if t := strings.TrimSpace(f.Topic); t != "" {
		where = append(where, "q.topic_name = "+arg(t))
	}

	order := "ORDER BY q.question_id ASC, c.choice_label ASC, c.choice_id ASC"
	switch strings.TrimSpace(f.Scope) {
	case "":
	case ScopeMine:
		if f.UserID == nil {
			return "", nil, ErrLoginRequired
		}
		where = append(where, "q.created_by = "+arg(*f.UserID))
	case ScopeReview:
		if f.UserID == nil {
			return "", nil, ErrLoginRequired
		}
		uid := arg(*f.UserID)
		joins = append(joins, `LEFT JOIN (
      SELECT DISTINCT ON (a.question_id) a.question_id, a.is_correct, a.answered_at
      FROM answers a
      WHERE a.user_id = `+uid+`
      ORDER BY a.question_id, a.answer_id DESC
    ) latest ON latest.question_id = q.question_id`,
			`LEFT JOIN (
      SELECT question_id, SUM(CASE WHEN is_correct THEN 1 ELSE 0 END) AS correct_count
      FROM answers
      WHERE user_id = `+uid+`
      GROUP BY question_id
    ) answer_stats ON answer_stats.question_id = q.question_id`)
		where = append(where, `(
      latest.is_correct = FALSE
      OR latest.is_correct IS NULL
      OR (
        latest.is_correct = TRUE
        AND COALESCE(answer_stats.correct_count, 0) = 1
        AND latest.answered_at <= `+arg(recheckBefore)+`
      )
    )`, "q.created_by = "+uid)
		order = "ORDER BY latest.answered_at ASC NULLS FIRST, q.question_id ASC, c.choice_label ASC, c.choice_id ASC"
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrInvalidScope, f.Scope)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = "AND " + strings.Join(where, " AND ")
	}

	query := `
    SELECT
      q.question_id, q.exam_name, q.domain_name, q.topic_name, q.title, q.stem, q.explanation,
      q.correct_label, q.needs_review, q.generation_id::text, q.created_by, q.created_at,
      c.choice_id, c.choice_label, c.choice_text,
      COALESCE(stats.correct_count, 0), COALESCE(stats.total_count, 0)
    FROM questions q
    LEFT JOIN question_choices c ON c.question_id = q.question_id
    LEFT JOIN (
      SELECT question_id, SUM(CASE WHEN is_correct THEN 1 ELSE 0 END)::int AS correct_count, COUNT(*)::int AS total_count
      FROM answers
      GROUP BY question_id
    ) stats ON stats.question_id = q.question_id
    ` + strings.Join(joins, "\n    ") + `
    WHERE q.is_active = TRUE
    ` + whereSQL + `
    ` + order
	return query, args, nil
}

// ListCatalog groups active questions by domain and topic. When userID is
// set only that user's questions are counted.
func (s *Service) ListCatalog(ctx context.Context, userID *int64) ([]DomainSummary, error) {
	query := `
    SELECT domain_name, topic_name, COUNT(*)::int
    FROM questions
    WHERE is_active = TRUE`
	var args []any
	if userID != nil {
		query += ` AND created_by = $1`
		args = append(args, *userID)
	}
	query += `
    GROUP BY domain_name, topic_name
    ORDER BY domain_name ASC, topic_name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list catalog: %w", err)
	}
	defer rows.Close()

	out := make([]DomainSummary, 0)
	for rows.Next() {
		var domain, topic string
		var count int
		if err := rows.Scan(&domain, &topic, &count); err != nil {
			return nil, fmt.Errorf("scan catalog: %w", err)
		}
		if len(out) == 0 || out[len(out)-1].DomainName != domain {
			out = append(out, DomainSummary{DomainName: domain, Topics: make([]TopicSummary, 0)})
		}
		last := &out[len(out)-1]
		last.QuestionCount += count
		last.Topics = append(last.Topics, TopicSummary{TopicName: topic, QuestionCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog: %w", err)
	}
	return out, nil
}

// SetActive toggles visibility of a question owned by userID. Answers are
// kept either way.
func (s *Service) SetActive(ctx context.Context, questionID, userID int64, active bool) error {
	if questionID <= 0 {
		return fmt.Errorf("%w: question_id must be positive", ErrInvalidInput)
	}
	res, err := s.db.ExecContext(ctx, `
    UPDATE questions SET is_active = $3, updated_at = now()
    WHERE question_id = $1 AND created_by = $2`, questionID, userID, active)
	if err != nil {
		return fmt.Errorf("update question active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update question active: %w", err)
	}
	if n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

// percent returns part/total as a percentage rounded to one decimal, nil when
// total is zero.
func percent(part, total int) *float64 {
	if total <= 0 {
		return nil
	}
	v := math.Round(float64(part)/float64(total)*1000) / 10
	return &v
}
