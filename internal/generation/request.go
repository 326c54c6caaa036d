package generation

import "strings"

const (
	DefaultCount = 5
	MinCount     = 1
	MaxCount     = 50
)

// Request is one generation call. Count is clamped to [MinCount, MaxCount].
type Request struct {
	Genre        string `json:"genre"`
	ProblemType  string `json:"problem_type"`
	Goal         string `json:"goal"`
	Background   string `json:"background"`
	OutputFormat string `json:"output_format"`
	Constraints  string `json:"constraints"`
	Notes        string `json:"notes"`
	Count        *int   `json:"count"`
}

func (r Request) normalized() Request {
	out := Request{
		Genre:        strings.TrimSpace(r.Genre),
		ProblemType:  strings.TrimSpace(r.ProblemType),
		Goal:         strings.TrimSpace(r.Goal),
		Background:   strings.TrimSpace(r.Background),
		OutputFormat: strings.TrimSpace(r.OutputFormat),
		Constraints:  strings.TrimSpace(r.Constraints),
		Notes:        strings.TrimSpace(r.Notes),
	}
	n := r.ResolvedCount()
	out.Count = &n
	return out
}

// ResolvedCount returns the requested count, DefaultCount when absent.
func (r Request) ResolvedCount() int {
	if r.Count == nil {
		return DefaultCount
	}
	n := *r.Count
	if n < MinCount {
		return MinCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

// replaceScope reports whether the request names a full (domain, topic) pair
// whose previous questions should be replaced.
func (r Request) replaceScope() (string, string, bool) {
	if r.Genre == "" || r.ProblemType == "" {
		return "", "", false
	}
	return r.Genre, r.ProblemType, true
}
