package question

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var sheetHeaders = []string{
	"question_id", "domain_name", "topic_name", "title", "stem", "explanation", "correct_label",
	"A", "B", "C", "D", "E", "F",
}

var sheetChoiceLabels = []string{"A", "B", "C", "D", "E", "F"}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows      int              `json:"total_rows"`
	QuestionsSaved int              `json:"questions_saved"`
	ChoicesSaved   int              `json:"choices_saved"`
	FailedRows     int              `json:"failed_rows"`
	Errors         []ImportRowError `json:"errors"`
}

func (s *Service) ExportExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	items, err := s.ListQuestions(ctx, f)
	if err != nil {
		return nil, err
	}
	return buildWorkbook(items)
}

func buildWorkbook(items []Question) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, h := range sheetHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		row := i + 2
		values := []any{
			it.QuestionID,
			it.DomainName,
			it.TopicName,
			it.Title,
			it.Stem,
			it.Explanation,
			it.CorrectLabel,
		}
		byLabel := map[string]string{}
		for _, c := range it.Choices {
			byLabel[c.ChoiceLabel] = c.ChoiceText
		}
		for _, l := range sheetChoiceLabels {
			values = append(values, byLabel[l])
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 12)
	_ = f.SetColWidth(sheet, "B", "D", 22)
	_ = f.SetColWidth(sheet, "E", "F", 60)
	_ = f.SetColWidth(sheet, "H", "M", 30)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportExcel reads the first sheet and saves every valid row in one batch.
// Rows that cannot be parsed are reported and skipped.
func (s *Service) ImportExcel(ctx context.Context, createdBy *int64, r io.Reader) (*ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	inputs, report, err := parseSheetRows(rows)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return report, nil
	}

	saved, err := s.SaveQuestions(ctx, inputs, importSaveOptions(createdBy))
	if err != nil {
		return nil, err
	}
	report.QuestionsSaved = saved.QuestionsSaved
	report.ChoicesSaved = saved.ChoicesSaved
	return report, nil
}

// importSaveOptions treats a sheet row with a question_id as the full new
// state of that question. The sheet carries no choice ids, so its stored
// choices are replaced rather than appended to.
func importSaveOptions(createdBy *int64) SaveOptions {
	return SaveOptions{AllowAutoID: true, CreatedBy: createdBy, ReplaceChoices: true}
}

func parseSheetRows(rows [][]string) ([]QuestionInput, *ImportReport, error) {
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}
	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"domain_name", "stem", "a", "b"} {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	inputs := make([]QuestionInput, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlankRow(row) {
			continue
		}
		report.TotalRows++
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		in, err := rowToInput(get)
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: i + 1, Error: err.Error()})
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, report, nil
}

func rowToInput(get func(string) string) (QuestionInput, error) {
	domain := get("domain_name")
	stem := get("stem")
	if domain == "" || stem == "" {
		return QuestionInput{}, errors.New("domain_name and stem are required")
	}
	topic := get("topic_name")
	title := get("title")

	in := QuestionInput{
		ExamName:     get("exam_name"),
		DomainName:   &domain,
		TopicName:    &topic,
		Title:        &title,
		Stem:         &stem,
		Explanation:  get("explanation"),
		CorrectLabel: strings.ToUpper(get("correct_label")),
		Choices:      make([]ChoiceInput, 0, len(sheetChoiceLabels)),
	}
	if raw := get("question_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return QuestionInput{}, fmt.Errorf("invalid question_id %q", raw)
		}
		in.QuestionID = &id
	}
	for _, l := range sheetChoiceLabels {
		text := get(strings.ToLower(l))
		if text == "" {
			continue
		}
		label := l
		in.Choices = append(in.Choices, ChoiceInput{Label: &label, Text: &text})
	}
	if len(in.Choices) < 2 {
		return QuestionInput{}, errors.New("at least two choices are required")
	}
	if in.CorrectLabel != "" {
		found := false
		for _, c := range in.Choices {
			if *c.Label == in.CorrectLabel {
				found = true
				break
			}
		}
		if !found {
			return QuestionInput{}, fmt.Errorf("correct_label %s has no choice", in.CorrectLabel)
		}
	}
	return in, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
