package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

//go:embed 0002_question_review_flags.sql
var questionReviewFlagsSQL string

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, questionReviewFlagsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP INDEX IF EXISTS idx_questions_needs_review;
ALTER TABLE questions DROP COLUMN IF EXISTS generation_id;
ALTER TABLE questions DROP COLUMN IF EXISTS needs_review`)
			return err
		},
	)
}
