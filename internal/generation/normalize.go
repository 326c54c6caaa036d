package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
)

var ErrParse = errors.New("model output is not a JSON array")

// FallbackName is stored when neither the record nor the request names a
// domain or topic.
const FallbackName = "未指定"

var labelAlphabet = []string{"A", "B", "C", "D", "E", "F"}

var (
	fenceOpenRE  = regexp.MustCompile("^```[a-zA-Z0-9]*\\s*")
	fenceCloseRE = regexp.MustCompile("```\\s*$")
	markerRE     = regexp.MustCompile(`^【正解:[^】]+】\s*`)
)

// ShuffleFunc permutes n elements through swap. math/rand/v2.Shuffle fits.
type ShuffleFunc func(n int, swap func(i, j int))

// Choice is one answer option.
type Choice struct {
	Label string `json:"choice_label"`
	Text  string `json:"choice_text"`
}

// Candidate is a question lifted from a model record. It is not trusted until
// Validate accepts it.
type Candidate struct {
	Index        int
	DomainName   string
	TopicName    string
	Title        string
	Stem         string
	Explanation  string
	CorrectLabel string
	Choices      []Choice

	// NeedsReview is set when the original correct choice could not be found
	// and the label was assigned by rotation.
	NeedsReview bool

	// Malformed holds the reason a record failed the type check.
	Malformed string
}

type rawRecord struct {
	DomainName   *string     `json:"domain_name"`
	TopicName    *string     `json:"topic_name"`
	Title        *string     `json:"title"`
	Stem         *string     `json:"stem"`
	Explanation  *string     `json:"explanation"`
	CorrectLabel *string     `json:"correct_label"`
	Choices      []rawChoice `json:"choices"`
}

type rawChoice struct {
	ChoiceLabel *string `json:"choice_label"`
	ChoiceText  *string `json:"choice_text"`
	Label       *string `json:"label"`
	Text        *string `json:"text"`
}

func (c rawChoice) label() *string {
	if c.ChoiceLabel != nil {
		return c.ChoiceLabel
	}
	return c.Label
}

func (c rawChoice) text() *string {
	if c.ChoiceText != nil {
		return c.ChoiceText
	}
	return c.Text
}

// Normalize parses model output into candidates: back-fills names, shuffles
// and relabels choices while keeping the correct answer by text, and stamps
// the explanation with the resolved label.
func Normalize(text, fallbackGenre, fallbackTopic string, shuffle ShuffleFunc) ([]Candidate, error) {
	if shuffle == nil {
		shuffle = rand.Shuffle
	}
	clean := stripCodeFence(text)

	var records []json.RawMessage
	if err := json.Unmarshal([]byte(clean), &records); err != nil || records == nil {
		if err == nil {
			err = errors.New("null")
		}
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	out := make([]Candidate, 0, len(records))
	for i, raw := range records {
		c := liftRecord(i, raw, fallbackGenre, fallbackTopic)
		if c.Malformed == "" {
			rebalance(&c, raw, shuffle)
		}
		c.Explanation = annotateExplanation(c.Explanation, c.CorrectLabel)
		out = append(out, c)
	}
	return out, nil
}

func stripCodeFence(text string) string {
	clean := strings.TrimSpace(text)
	if strings.HasPrefix(clean, "```") {
		clean = fenceOpenRE.ReplaceAllString(clean, "")
		clean = fenceCloseRE.ReplaceAllString(clean, "")
		clean = strings.TrimSpace(clean)
	}
	return clean
}

func liftRecord(idx int, raw json.RawMessage, fallbackGenre, fallbackTopic string) Candidate {
	c := Candidate{Index: idx}
	if reason := checkRecord(raw); reason != "" {
		c.Malformed = reason
		c.DomainName = orDefault(fallbackGenre, FallbackName)
		c.TopicName = orDefault(fallbackTopic, FallbackName)
		return c
	}
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.Malformed = err.Error()
		return c
	}
	c.DomainName = deref(rec.DomainName)
	if c.DomainName == "" {
		c.DomainName = orDefault(fallbackGenre, FallbackName)
	}
	c.TopicName = deref(rec.TopicName)
	if c.TopicName == "" {
		c.TopicName = orDefault(fallbackTopic, FallbackName)
	}
	c.Title = deref(rec.Title)
	c.Stem = deref(rec.Stem)
	c.Explanation = deref(rec.Explanation)
	c.CorrectLabel = deref(rec.CorrectLabel)
	return c
}

// rebalance shuffles the record's choices and relabels them from
// labelAlphabet. The correct label follows the originally correct text.
func rebalance(c *Candidate, raw json.RawMessage, shuffle ShuffleFunc) {
	var rec rawRecord
	_ = json.Unmarshal(raw, &rec)
	choices := rec.Choices
	if len(choices) == 0 {
		return
	}

	var correctText *string
	if c.CorrectLabel != "" {
		for _, ch := range choices {
			if l := ch.label(); l != nil && *l == c.CorrectLabel {
				correctText = ch.text()
				break
			}
		}
	}

	shuffled := make([]rawChoice, len(choices))
	copy(shuffled, choices)
	shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	newCorrect := labelAlphabet[0]
	c.Choices = make([]Choice, 0, len(shuffled))
	for i, ch := range shuffled {
		label := labelFor(i)
		t := ch.text()
		c.Choices = append(c.Choices, Choice{Label: label, Text: deref(t)})
		if correctText != nil && t != nil && *t == *correctText {
			newCorrect = label
		}
	}

	if correctText == nil {
		newCorrect = labelAlphabet[c.Index%min(len(labelAlphabet), len(c.Choices))]
		c.NeedsReview = true
	}
	c.CorrectLabel = newCorrect
}

// labelFor returns "" past the end of labelAlphabet; such candidates are
// rejected as too_many_choices.
func labelFor(i int) string {
	if i < len(labelAlphabet) {
		return labelAlphabet[i]
	}
	return ""
}

// annotateExplanation prefixes the explanation with the correct-answer
// marker, replacing any marker already present.
func annotateExplanation(explanation, label string) string {
	body := markerRE.ReplaceAllString(explanation, "")
	return "【正解: " + label + "】 " + body
}

// explanationBody returns the explanation without its leading marker.
func explanationBody(explanation string) string {
	return markerRE.ReplaceAllString(explanation, "")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
