package question

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"studyquiz/internal/db/dbtest"
)

func fourChoices(prefix string) []ChoiceInput {
	out := make([]ChoiceInput, 0, 4)
	for _, l := range []string{"A", "B", "C", "D"} {
		out = append(out, ChoiceInput{Label: strPtr(l), Text: strPtr(prefix + l)})
	}
	return out
}

func sampleInput(id *int64, domain, topic, stem string) QuestionInput {
	return QuestionInput{
		QuestionID:  id,
		DomainName:  strPtr(domain),
		TopicName:   strPtr(topic),
		Title:       strPtr("title"),
		Stem:        strPtr(stem),
		Explanation: "【正解: A】 explanation text",
		Choices:     fourChoices(stem + "-"),
	}
}

func TestSaveQuestionsIntegration(t *testing.T) {
	sqldb := dbtest.Open(t)
	svc := NewService(sqldb, 7)
	ctx := context.Background()
	uid := dbtest.CreateUser(t, sqldb, "writer")

	t.Run("duplicate explicit id upserts one row", func(t *testing.T) {
		id := int64(100)
		res, err := svc.SaveQuestions(ctx, []QuestionInput{
			sampleInput(&id, "Net", "Sub", "first"),
			sampleInput(&id, "Net", "Sub", "second"),
		}, SaveOptions{CreatedBy: &uid})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if res.QuestionsSaved != 2 || res.ChoicesSaved != 8 {
			t.Fatalf("unexpected counts: %+v", res)
		}

		var count int
		var stem string
		if err := sqldb.QueryRowContext(ctx, `SELECT COUNT(*), MAX(stem) FROM questions WHERE question_id = 100`).Scan(&count, &stem); err != nil {
			t.Fatalf("query: %v", err)
		}
		if count != 1 || stem != "second" {
			t.Fatalf("expected one row with last stem, got count=%d stem=%q", count, stem)
		}
	})

	t.Run("auto ids continue after explicit ids", func(t *testing.T) {
		res, err := svc.SaveQuestions(ctx, []QuestionInput{sampleInput(nil, "Net", "Auto", "auto")},
			SaveOptions{AllowAutoID: true, ReturnSaved: true})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if len(res.Questions) != 1 || res.Questions[0].QuestionID <= 100 {
			t.Fatalf("expected generated id above 100, got %+v", res.Questions)
		}
		if len(res.Questions[0].Choices) != 4 || res.Questions[0].Choices[0].ChoiceID == 0 {
			t.Fatalf("expected saved choices with ids, got %+v", res.Questions[0].Choices)
		}
	})

	t.Run("invalid row rolls back the batch", func(t *testing.T) {
		bad := sampleInput(nil, "Net", "Rollback", "bad")
		bad.Stem = nil
		_, err := svc.SaveQuestions(ctx, []QuestionInput{sampleInput(nil, "Net", "Rollback", "good"), bad},
			SaveOptions{AllowAutoID: true})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
		var count int
		if err := sqldb.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE topic_name = 'Rollback'`).Scan(&count); err != nil {
			t.Fatalf("query: %v", err)
		}
		if count != 0 {
			t.Fatalf("expected no rows after rollback, got %d", count)
		}
	})

	t.Run("replace topic", func(t *testing.T) {
		key := &TopicKey{DomainName: "Gen", TopicName: "Topic"}
		for _, stem := range []string{"old1", "old2"} {
			if _, err := svc.SaveQuestions(ctx, []QuestionInput{sampleInput(nil, "Gen", "Topic", stem)}, SaveOptions{AllowAutoID: true}); err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
		res, err := svc.SaveQuestions(ctx, []QuestionInput{sampleInput(nil, "Gen", "Topic", "new")},
			SaveOptions{AllowAutoID: true, Replace: key, GenerationID: "5b0c7f1e-8d47-4a4c-9c1c-3f7c1d2e9a10"})
		if err != nil {
			t.Fatalf("replace: %v", err)
		}
		if res.Replaced != 2 {
			t.Fatalf("expected 2 replaced, got %d", res.Replaced)
		}
		items, err := svc.ListQuestions(ctx, ListFilter{Domain: "Gen", Topic: "Topic"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 1 || items[0].Stem != "new" || items[0].GenerationID == nil {
			t.Fatalf("unexpected items after replace: %+v", items)
		}
	})

	t.Run("excel re-import replaces choices", func(t *testing.T) {
		id := int64(200)
		if _, err := svc.SaveQuestions(ctx, []QuestionInput{sampleInput(&id, "Sheet", "Edit", "before")}, SaveOptions{}); err != nil {
			t.Fatalf("seed: %v", err)
		}
		items, err := svc.ListQuestions(ctx, ListFilter{Domain: "Sheet", Topic: "Edit"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 1 {
			t.Fatalf("expected seeded question, got %+v", items)
		}
		items[0].Stem = "after"
		book, err := buildWorkbook(items)
		if err != nil {
			t.Fatalf("build workbook: %v", err)
		}

		for i := 0; i < 2; i++ {
			report, err := svc.ImportExcel(ctx, nil, bytes.NewReader(book))
			if err != nil {
				t.Fatalf("import %d: %v", i, err)
			}
			if report.QuestionsSaved != 1 || report.ChoicesSaved != 4 {
				t.Fatalf("unexpected import report: %+v", report)
			}
		}

		var choices int
		if err := sqldb.QueryRowContext(ctx, `SELECT COUNT(*) FROM question_choices WHERE question_id = 200`).Scan(&choices); err != nil {
			t.Fatalf("query: %v", err)
		}
		if choices != 4 {
			t.Fatalf("expected 4 choices after re-import, got %d", choices)
		}
		items, err = svc.ListQuestions(ctx, ListFilter{Domain: "Sheet", Topic: "Edit"})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(items) != 1 || items[0].Stem != "after" {
			t.Fatalf("unexpected items after re-import: %+v", items)
		}
	})

	t.Run("my scope and set active", func(t *testing.T) {
		mine, err := svc.ListQuestions(ctx, ListFilter{Scope: ScopeMine, UserID: &uid})
		if err != nil {
			t.Fatalf("list mine: %v", err)
		}
		if len(mine) != 1 || mine[0].QuestionID != 100 {
			t.Fatalf("expected only question 100, got %+v", mine)
		}
		if err := svc.SetActive(ctx, 100, uid+1, false); !errors.Is(err, ErrQuestionNotFound) {
			t.Fatalf("expected ErrQuestionNotFound for other user, got %v", err)
		}
		if err := svc.SetActive(ctx, 100, uid, false); err != nil {
			t.Fatalf("set active: %v", err)
		}
		mine, err = svc.ListQuestions(ctx, ListFilter{Scope: ScopeMine, UserID: &uid})
		if err != nil {
			t.Fatalf("list mine: %v", err)
		}
		if len(mine) != 0 {
			t.Fatalf("expected inactive question hidden, got %+v", mine)
		}
	})
}
