package question

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type ChoiceInput struct {
	ChoiceID *int64  `json:"choice_id"`
	Label    *string `json:"choice_label"`
	Text     *string `json:"choice_text"`
}

// QuestionInput is one row for SaveQuestions. Pointer fields distinguish a
// missing key from an empty value; a nil Choices slice means "missing".
type QuestionInput struct {
	QuestionID   *int64        `json:"question_id"`
	ExamName     string        `json:"exam_name"`
	DomainName   *string       `json:"domain_name"`
	TopicName    *string       `json:"topic_name"`
	Title        *string       `json:"title"`
	Stem         *string       `json:"stem"`
	Explanation  string        `json:"explanation"`
	CorrectLabel string        `json:"correct_label"`
	NeedsReview  bool          `json:"needs_review"`
	Choices      []ChoiceInput `json:"choices"`
}

// TopicKey names the (domain, topic) pair replaced on regeneration.
type TopicKey struct {
	DomainName string
	TopicName  string
}

type SaveOptions struct {
	AllowAutoID  bool
	ReturnSaved  bool
	CreatedBy    *int64
	GenerationID string
	// Replace deletes every stored question of the pair inside the same
	// transaction before the batch is written.
	Replace *TopicKey
	// ReplaceChoices drops the stored choices of every row with an explicit
	// question id before its choices are written.
	ReplaceChoices bool
}

type SavedQuestion struct {
	QuestionID   int64    `json:"question_id"`
	ExamName     string   `json:"exam_name"`
	DomainName   string   `json:"domain_name"`
	TopicName    string   `json:"topic_name"`
	Title        string   `json:"title"`
	Stem         string   `json:"stem"`
	Explanation  string   `json:"explanation"`
	CorrectLabel string   `json:"correct_label"`
	NeedsReview  bool     `json:"needs_review"`
	Choices      []Choice `json:"choices"`
}

type SaveResult struct {
	QuestionsSaved int             `json:"questions_saved"`
	ChoicesSaved   int             `json:"choices_saved"`
	Replaced       int64           `json:"replaced"`
	Questions      []SavedQuestion `json:"questions,omitempty"`
}

// SaveQuestions upserts questions and their choices in one transaction.
// Rows with an explicit id are upserted on that id; others get a generated
// id when AllowAutoID is set. Any invalid row rolls back the whole batch.
func (s *Service) SaveQuestions(ctx context.Context, in []QuestionInput, opts SaveOptions) (*SaveResult, error) {
	plan, err := planBatch(in, opts.AllowAutoID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	out := &SaveResult{QuestionsSaved: plan.questions(), ChoicesSaved: plan.choices}
	if opts.Replace != nil {
		n, err := replaceTopic(ctx, tx, *opts.Replace)
		if err != nil {
			return nil, err
		}
		out.Replaced = n
	}

	for idx, p := range plan.rows {
		q, row := p.input, p.row

		var questionID int64
		if q.QuestionID != nil {
			err = tx.QueryRowContext(ctx, `
        INSERT INTO questions (
          question_id, exam_name, domain_name, topic_name, title, stem, explanation,
          correct_label, is_active, needs_review, generation_id, created_by
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $11)
        ON CONFLICT (question_id) DO UPDATE SET
          exam_name = EXCLUDED.exam_name,
          domain_name = EXCLUDED.domain_name,
          topic_name = EXCLUDED.topic_name,
          title = EXCLUDED.title,
          stem = EXCLUDED.stem,
          explanation = EXCLUDED.explanation,
          correct_label = EXCLUDED.correct_label,
          is_active = EXCLUDED.is_active,
          needs_review = EXCLUDED.needs_review,
          generation_id = EXCLUDED.generation_id,
          updated_at = now()
        RETURNING question_id`,
				*q.QuestionID, row.ExamName, row.DomainName, row.TopicName, row.Title, row.Stem, row.Explanation,
				row.CorrectLabel, row.NeedsReview, nullableUUID(opts.GenerationID), nullableInt64(opts.CreatedBy),
			).Scan(&questionID)
		} else {
			err = tx.QueryRowContext(ctx, `
        INSERT INTO questions (
          exam_name, domain_name, topic_name, title, stem, explanation,
          correct_label, is_active, needs_review, generation_id, created_by
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10)
        RETURNING question_id`,
				row.ExamName, row.DomainName, row.TopicName, row.Title, row.Stem, row.Explanation,
				row.CorrectLabel, row.NeedsReview, nullableUUID(opts.GenerationID), nullableInt64(opts.CreatedBy),
			).Scan(&questionID)
		}
		if err != nil {
			return nil, fmt.Errorf("upsert question at index %d: %w", idx, err)
		}
		row.QuestionID = questionID

		if opts.ReplaceChoices && q.QuestionID != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM question_choices WHERE question_id = $1`, questionID); err != nil {
				return nil, fmt.Errorf("replace choices of question at index %d: %w", idx, err)
			}
		}

		for cIdx, c := range q.Choices {
			var choiceID int64
			if c.ChoiceID != nil {
				err = tx.QueryRowContext(ctx, `
          INSERT INTO question_choices (choice_id, question_id, choice_label, choice_text)
          VALUES ($1, $2, $3, $4)
          ON CONFLICT (choice_id) DO UPDATE SET
            question_id = EXCLUDED.question_id,
            choice_label = EXCLUDED.choice_label,
            choice_text = EXCLUDED.choice_text,
            updated_at = now()
          RETURNING choice_id`,
					*c.ChoiceID, questionID, *c.Label, *c.Text,
				).Scan(&choiceID)
			} else {
				err = tx.QueryRowContext(ctx, `
          INSERT INTO question_choices (question_id, choice_label, choice_text)
          VALUES ($1, $2, $3)
          RETURNING choice_id`,
					questionID, *c.Label, *c.Text,
				).Scan(&choiceID)
			}
			if err != nil {
				return nil, fmt.Errorf("upsert choice %d of question at index %d: %w", cIdx, idx, err)
			}
			row.Choices = append(row.Choices, Choice{ChoiceID: choiceID, ChoiceLabel: *c.Label, ChoiceText: *c.Text})
		}

		if opts.ReturnSaved {
			out.Questions = append(out.Questions, row)
		}
	}

	if plan.explicitIDs {
		if err := syncIdentity(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

type plannedRow struct {
	input QuestionInput
	row   SavedQuestion
}

type batchPlan struct {
	rows        []plannedRow
	choices     int
	explicitIDs bool
}

// planBatch validates every row and resolves its defaults before anything is
// written. A duplicate explicit id stays two rows: both are written and the
// later one wins.
func planBatch(in []QuestionInput, allowAutoID bool) (*batchPlan, error) {
	plan := &batchPlan{rows: make([]plannedRow, 0, len(in))}
	for idx, q := range in {
		if err := validateQuestionInput(idx, q, allowAutoID); err != nil {
			return nil, err
		}
		if q.QuestionID != nil {
			plan.explicitIDs = true
		}
		for _, c := range q.Choices {
			if c.ChoiceID != nil {
				plan.explicitIDs = true
			}
		}
		plan.choices += len(q.Choices)
		plan.rows = append(plan.rows, plannedRow{input: q, row: resolveRow(q)})
	}
	return plan, nil
}

func (p *batchPlan) questions() int { return len(p.rows) }

// replaceTopic deletes the pair's questions (choices and answers cascade).
// The advisory lock serializes concurrent replacements of the same pair
// until the surrounding transaction ends.
func replaceTopic(ctx context.Context, tx *sql.Tx, key TopicKey) (int64, error) {
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		key.DomainName+"\x1f"+key.TopicName,
	); err != nil {
		return 0, fmt.Errorf("lock topic: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM questions WHERE domain_name = $1 AND topic_name = $2`,
		key.DomainName, key.TopicName,
	)
	if err != nil {
		return 0, fmt.Errorf("delete topic questions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete topic questions: %w", err)
	}
	return n, nil
}

// syncIdentity moves the identity sequences past explicitly inserted ids so
// later generated ids do not collide with them.
func syncIdentity(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`SELECT setval(pg_get_serial_sequence('questions', 'question_id'), GREATEST((SELECT COALESCE(MAX(question_id), 0) FROM questions), 1))`,
		`SELECT setval(pg_get_serial_sequence('question_choices', 'choice_id'), GREATEST((SELECT COALESCE(MAX(choice_id), 0) FROM question_choices), 1))`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sync identity: %w", err)
		}
	}
	return nil
}

func validateQuestionInput(idx int, q QuestionInput, allowAutoID bool) error {
	required := []struct {
		name    string
		present bool
	}{
		{"domain_name", q.DomainName != nil},
		{"topic_name", q.TopicName != nil},
		{"title", q.Title != nil},
		{"stem", q.Stem != nil},
		{"choices", q.Choices != nil},
	}
	for _, r := range required {
		if !r.present {
			return fmt.Errorf("%w: missing %s at question index %d", ErrInvalidInput, r.name, idx)
		}
	}
	if !allowAutoID && q.QuestionID == nil {
		return fmt.Errorf("%w: question_id is required at index %d", ErrInvalidInput, idx)
	}
	if q.QuestionID != nil && *q.QuestionID <= 0 {
		return fmt.Errorf("%w: question_id must be positive at index %d", ErrInvalidInput, idx)
	}
	for cIdx, c := range q.Choices {
		if c.Label == nil {
			return fmt.Errorf("%w: missing choice_label in choice %d (question index %d)", ErrInvalidInput, cIdx, idx)
		}
		if c.Text == nil {
			return fmt.Errorf("%w: missing choice_text in choice %d (question index %d)", ErrInvalidInput, cIdx, idx)
		}
		if c.ChoiceID != nil && *c.ChoiceID <= 0 {
			return fmt.Errorf("%w: choice_id must be positive in choice %d (question index %d)", ErrInvalidInput, cIdx, idx)
		}
	}
	return nil
}

// resolveRow applies defaults: exam name "study", and a correct label taken
// from the input, else the first choice, else "A".
func resolveRow(q QuestionInput) SavedQuestion {
	exam := strings.TrimSpace(q.ExamName)
	if exam == "" {
		exam = DefaultExamName
	}
	correct := strings.TrimSpace(q.CorrectLabel)
	if correct == "" && len(q.Choices) > 0 && q.Choices[0].Label != nil {
		correct = strings.TrimSpace(*q.Choices[0].Label)
	}
	if correct == "" {
		correct = "A"
	}
	return SavedQuestion{
		ExamName:     exam,
		DomainName:   deref(q.DomainName),
		TopicName:    deref(q.TopicName),
		Title:        deref(q.Title),
		Stem:         deref(q.Stem),
		Explanation:  q.Explanation,
		CorrectLabel: correct,
		NeedsReview:  q.NeedsReview,
		Choices:      make([]Choice, 0, len(q.Choices)),
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil || *v <= 0 {
		return nil
	}
	return *v
}

func nullableUUID(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return v
}
