package answer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Input is one answered question. Pointer fields separate a missing key
// from a zero value.
type Input struct {
	QuestionID    *int64  `json:"question_id"`
	SelectedLabel *string `json:"selected_label"`
	ElapsedMS     *int64  `json:"elapsed_ms"`
}

// RecordAnswers appends the batch to the answer log in one transaction. Each
// answer is graded against the stored correct label; an unknown question
// aborts the whole batch.
func (s *Service) RecordAnswers(ctx context.Context, userID int64, in []Input) (int, error) {
	ids, err := validateBatch(in)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	correct, err := loadCorrectLabels(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, ok := correct[id]; !ok {
			return 0, fmt.Errorf("%w: question_id %d not found", ErrQuestionNotFound, id)
		}
	}

	saved := 0
	for idx, a := range in {
		selected := strings.TrimSpace(*a.SelectedLabel)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO answers (user_id, question_id, selected_label, is_correct, elapsed_ms)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, *a.QuestionID, selected, isCorrect(selected, correct[*a.QuestionID]), nullableInt64(a.ElapsedMS))
		if err != nil {
			return 0, fmt.Errorf("insert answer at index %d: %w", idx, err)
		}
		saved++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return saved, nil
}

// validateBatch checks every item and returns the distinct question ids in
// first-seen order.
func validateBatch(in []Input) ([]int64, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: no question_id provided", ErrInvalidInput)
	}
	seen := make(map[int64]struct{}, len(in))
	ids := make([]int64, 0, len(in))
	for idx, a := range in {
		if a.QuestionID == nil || *a.QuestionID <= 0 {
			return nil, fmt.Errorf("%w: missing question_id at answer index %d", ErrInvalidInput, idx)
		}
		if a.SelectedLabel == nil || strings.TrimSpace(*a.SelectedLabel) == "" {
			return nil, fmt.Errorf("%w: missing selected_label at answer index %d", ErrInvalidInput, idx)
		}
		if utf8.RuneCountInString(strings.TrimSpace(*a.SelectedLabel)) > 1 {
			return nil, fmt.Errorf("%w: selected_label must be a single letter at answer index %d", ErrInvalidInput, idx)
		}
		if a.ElapsedMS != nil && *a.ElapsedMS < 0 {
			return nil, fmt.Errorf("%w: elapsed_ms must not be negative at answer index %d", ErrInvalidInput, idx)
		}
		if _, ok := seen[*a.QuestionID]; !ok {
			seen[*a.QuestionID] = struct{}{}
			ids = append(ids, *a.QuestionID)
		}
	}
	return ids, nil
}

func loadCorrectLabels(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT question_id, correct_label
		FROM questions
		WHERE question_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("load correct labels: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string, len(ids))
	for rows.Next() {
		var id int64
		var label string
		if err := rows.Scan(&id, &label); err != nil {
			return nil, fmt.Errorf("scan correct label: %w", err)
		}
		out[id] = strings.TrimSpace(label)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate correct labels: %w", err)
	}
	return out, nil
}

// isCorrect is an exact, case-sensitive label match.
func isCorrect(selected, correct string) bool {
	return correct != "" && selected == correct
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
