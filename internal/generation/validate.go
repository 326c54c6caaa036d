package generation

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/rivo/uniseg"
)

var ErrAllRejected = errors.New("generated questions did not pass quality checks")

const (
	minChoices           = 4
	minExplanationLength = 10
)

const (
	rejectMalformed        = "malformed"
	rejectEmptyStem        = "empty_stem"
	rejectTooFewChoices    = "too_few_choices"
	rejectTooManyChoices   = "too_many_choices"
	rejectEmptyChoice      = "empty_choice"
	rejectDuplicateChoice  = "duplicate_choice"
	rejectShortExplanation = "short_explanation"
)

// Rejections counts dropped candidates by reason.
type Rejections map[string]int

func (r Rejections) Total() int {
	n := 0
	for _, v := range r {
		n += v
	}
	return n
}

func (r Rejections) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.Itoa(r[k]))
	}
	return strings.Join(parts, ", ")
}

// Validate drops unusable candidates and fails with ErrAllRejected when none
// survive.
func Validate(candidates []Candidate) ([]Candidate, Rejections, error) {
	out := make([]Candidate, 0, len(candidates))
	rejected := Rejections{}
	for _, c := range candidates {
		if reason := rejectReason(c); reason != "" {
			rejected[reason]++
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, rejected, ErrAllRejected
	}
	return out, rejected, nil
}

func rejectReason(c Candidate) string {
	if c.Malformed != "" {
		return rejectMalformed
	}
	if strings.TrimSpace(c.Stem) == "" {
		return rejectEmptyStem
	}
	if len(c.Choices) < minChoices {
		return rejectTooFewChoices
	}
	if len(c.Choices) > len(labelAlphabet) {
		return rejectTooManyChoices
	}
	seen := make(map[string]struct{}, len(c.Choices))
	for _, ch := range c.Choices {
		text := strings.TrimSpace(ch.Text)
		if strings.TrimSpace(ch.Label) == "" || text == "" {
			return rejectEmptyChoice
		}
		if _, dup := seen[text]; dup {
			return rejectDuplicateChoice
		}
		seen[text] = struct{}{}
	}
	if uniseg.GraphemeClusterCount(explanationBody(c.Explanation)) < minExplanationLength {
		return rejectShortExplanation
	}
	return ""
}
