package generation

import (
	"fmt"
	"strings"
)

const (
	defaultGenre        = "IT全般"
	defaultTopic        = "一般"
	defaultGoal         = "学習"
	defaultBackground   = "初学者"
	defaultOutputFormat = "四択(A-D)、正答1つ、解説必須"
	defaultConstraints  = "四択・正答1つ・解説必須"
	defaultNotes        = "特になし"
)

// BuildPrompt renders the instruction sent to the model. Empty fields are
// replaced with defaults so no placeholder reaches the model blank.
func BuildPrompt(req Request) string {
	req = req.normalized()
	genre := orDefault(req.Genre, defaultGenre)
	topic := orDefault(req.ProblemType, defaultTopic)

	var b strings.Builder
	fmt.Fprintf(&b, "あなたはIT試験向けの問題作成者です。以下の要件に沿って四択問題を%d問生成してください。\n", *req.Count)
	fmt.Fprintf(&b, "- ジャンル: %s\n", genre)
	fmt.Fprintf(&b, "- 問題タイプ/トピック: %s\n", topic)
	fmt.Fprintf(&b, "- 目標: %s\n", orDefault(req.Goal, defaultGoal))
	fmt.Fprintf(&b, "- 前提知識: %s\n", orDefault(req.Background, defaultBackground))
	fmt.Fprintf(&b, "- 出力形式: %s\n", orDefault(req.OutputFormat, defaultOutputFormat))
	fmt.Fprintf(&b, "- 制約/注意: %s\n", orDefault(req.Constraints, defaultConstraints))
	fmt.Fprintf(&b, "- メモ: %s\n", orDefault(req.Notes, defaultNotes))
	b.WriteString("\n出力は JSON 配列のみで返してください（Markdownなし、コードフェンスなし、前置きや説明文なし）。スキーマ:\n")
	fmt.Fprintf(&b, `[
  {
    "domain_name": %q,
    "topic_name": %q,
    "title": "短いタイトル",
    "stem": "問題文",
    "choices": [
      {"choice_label": "A", "choice_text": "..."},
      {"choice_label": "B", "choice_text": "..."},
      {"choice_label": "C", "choice_text": "..."},
      {"choice_label": "D", "choice_text": "..."}
    ],
    "correct_label": "A|B|C|D",
    "explanation": "なぜそれが正解か。誤答の簡潔な指摘も含めると良い"
  }
]
`, genre, topic)
	return b.String()
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
