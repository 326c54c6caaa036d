package report

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
)

// statsQueryTimeout bounds a shared stats query once it no longer follows
// any single caller's context.
const statsQueryTimeout = 30 * time.Second

type Service struct {
	db    *sql.DB
	group singleflight.Group
	load  func(ctx context.Context, userID int64) ([]outcome, error)
}

func NewService(db *sql.DB) *Service {
	s := &Service{db: db}
	s.load = s.loadOutcomes
	return s
}

type Bucket struct {
	Name     string   `json:"name"`
	Correct  int      `json:"correct"`
	Total    int      `json:"total"`
	Accuracy *float64 `json:"accuracy"`
}

type Overall struct {
	Correct  int      `json:"correct"`
	Total    int      `json:"total"`
	Accuracy *float64 `json:"accuracy"`
}

type Stats struct {
	Overall Overall  `json:"overall"`
	Genres  []Bucket `json:"genres"`
	Topics  []Bucket `json:"topics"`
}

// outcome is one active question created by the user, graded by the user's
// latest answer to it. An unanswered question counts as not correct.
type outcome struct {
	Domain  string
	Topic   string
	Correct bool
}

// Stats reports accuracy over the user's own active questions. Concurrent
// calls for the same user share one query. The shared query is detached from
// the caller that started it, so a disconnecting client only abandons its own
// wait.
func (s *Service) Stats(ctx context.Context, userID int64) (*Stats, error) {
	qctx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(qctx, statsQueryTimeout)
		defer cancel()
		rows, err := s.load(qctx, userID)
		if err != nil {
			return nil, err
		}
		return aggregate(rows), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Stats), nil
	}
}

func (s *Service) loadOutcomes(ctx context.Context, userID int64) ([]outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.domain_name, q.topic_name, COALESCE(latest.is_correct, FALSE)
		FROM questions q
		LEFT JOIN (
			SELECT DISTINCT ON (a.question_id) a.question_id, a.is_correct
			FROM answers a
			WHERE a.user_id = $1
			ORDER BY a.question_id, a.answer_id DESC
		) latest ON latest.question_id = q.question_id
		WHERE q.created_by = $1
		  AND q.is_active = TRUE
		ORDER BY q.question_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	out := make([]outcome, 0)
	for rows.Next() {
		var o outcome
		if err := rows.Scan(&o.Domain, &o.Topic, &o.Correct); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stats: %w", err)
	}
	return out, nil
}

// aggregate buckets outcomes by genre and by topic in first-seen order.
func aggregate(rows []outcome) *Stats {
	st := &Stats{Genres: make([]Bucket, 0), Topics: make([]Bucket, 0)}
	genreIdx := map[string]int{}
	topicIdx := map[string]int{}

	add := func(list *[]Bucket, idx map[string]int, name string, correct bool) {
		i, ok := idx[name]
		if !ok {
			*list = append(*list, Bucket{Name: name})
			i = len(*list) - 1
			idx[name] = i
		}
		(*list)[i].Total++
		if correct {
			(*list)[i].Correct++
		}
	}

	for _, r := range rows {
		st.Overall.Total++
		if r.Correct {
			st.Overall.Correct++
		}
		add(&st.Genres, genreIdx, r.Domain, r.Correct)
		add(&st.Topics, topicIdx, r.Topic, r.Correct)
	}

	st.Overall.Accuracy = accuracy(st.Overall.Correct, st.Overall.Total)
	for i := range st.Genres {
		st.Genres[i].Accuracy = accuracy(st.Genres[i].Correct, st.Genres[i].Total)
	}
	for i := range st.Topics {
		st.Topics[i].Accuracy = accuracy(st.Topics[i].Correct, st.Topics[i].Total)
	}
	return st
}

func accuracy(correct, total int) *float64 {
	if total <= 0 {
		return nil
	}
	v := math.Round(float64(correct)/float64(total)*1000) / 10
	return &v
}
