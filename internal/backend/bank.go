package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mind-engage/groundschool/internal/apperrors"
	"github.com/mind-engage/groundschool/internal/quiz"
	"github.com/mind-engage/groundschool/internal/topics"
)

// Mode selects a backend contract variant.
type Mode string

const (
	// ModeQuiz fetches with action=quiz; the answer key ships with the
	// questions and scoring happens locally.
	ModeQuiz Mode = "quiz"
	// ModeBuckets fetches with action=questions_buckets and delegates
	// scoring to action=grade.
	ModeBuckets Mode = "buckets"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeQuiz, ModeBuckets:
		return m, nil
	}
	return "", fmt.Errorf("unknown backend mode %q (expected quiz|buckets)", s)
}

type FetchRequest struct {
	Topics     topics.Spec
	Lesson     string
	Cap        int    // overall question cap; 0 means none
	AccessCode string // optional gate code
}

// Batch is a fetched question set. QuizID correlates fetch and grade calls
// and is empty when the contract does not issue one.
type Batch struct {
	QuizID    string
	Questions []quiz.Question
}

// QuestionBank fetches questions matching a topic mix. Implementations may
// return fewer questions than requested, never zero.
type QuestionBank interface {
	FetchQuestions(ctx context.Context, req FetchRequest) (Batch, error)
}

func NewBank(mode Mode, c *Client) (QuestionBank, error) {
	switch mode {
	case ModeQuiz:
		return &QuizBank{Client: c}, nil
	case ModeBuckets:
		return &BucketBank{Client: c}, nil
	}
	return nil, fmt.Errorf("unknown backend mode %q", mode)
}

func checkFetch(op string, req FetchRequest) error {
	if len(req.Topics) == 0 || req.Topics.Empty() {
		return apperrors.Validation(op, "topic mix requests no questions")
	}
	if req.Cap < 0 {
		return apperrors.Validation(op, "negative question cap %d", req.Cap)
	}
	return nil
}

func codeHeader(code string) http.Header {
	if code = strings.TrimSpace(code); code == "" {
		return nil
	}
	h := http.Header{}
	h.Set(AccessCodeHeader, code)
	return h
}

// QuizBank is the action=quiz contract.
type QuizBank struct{ Client *Client }

func (b *QuizBank) FetchQuestions(ctx context.Context, req FetchRequest) (Batch, error) {
	const op = "quiz"
	if err := checkFetch(op, req); err != nil {
		return Batch{}, err
	}
	var out struct {
		Questions json.RawMessage `json:"questions"`
	}
	err := b.Client.do(ctx, call{
		method: http.MethodGet,
		action: op,
		query:  url.Values{"topics": {req.Topics.String()}},
		header: codeHeader(req.AccessCode),
	}, &out)
	if err != nil {
		return Batch{}, err
	}
	qs, err := decodeQuestions(op, out.Questions)
	if err != nil {
		return Batch{}, err
	}
	if err := requireKeys(op, qs, out.Questions); err != nil {
		return Batch{}, err
	}
	return Batch{Questions: qs}, nil
}

// requireKeys rejects a batch that cannot be scored locally: every question
// needs a letter key naming one of its choices.
func requireKeys(op string, qs []quiz.Question, body []byte) error {
	for _, q := range qs {
		if i := quiz.ChoiceIndex(q.Correct); i < 0 || i >= len(q.Choices) {
			return apperrors.Protocol(op, fmt.Sprintf("question %q has no usable answer key (%q)", q.ID, q.Correct), body)
		}
	}
	return nil
}

// BucketBank is the action=questions_buckets contract.
type BucketBank struct{ Client *Client }

func (b *BucketBank) FetchQuestions(ctx context.Context, req FetchRequest) (Batch, error) {
	const op = "questions_buckets"
	if err := checkFetch(op, req); err != nil {
		return Batch{}, err
	}
	q := url.Values{
		"lesson": {req.Lesson},
		"topics": {req.Topics.String()},
	}
	if req.Cap > 0 {
		q.Set("cap", strconv.Itoa(req.Cap))
	}
	var out struct {
		QuizID    flexString      `json:"quizId"`
		Questions json.RawMessage `json:"questions"`
	}
	err := b.Client.do(ctx, call{
		method: http.MethodGet,
		action: op,
		query:  q,
		header: codeHeader(req.AccessCode),
	}, &out)
	if err != nil {
		return Batch{}, err
	}
	if strings.TrimSpace(string(out.QuizID)) == "" {
		return Batch{}, apperrors.Protocol(op, "response has no quizId", out.Questions)
	}
	qs, err := decodeQuestions(op, out.Questions)
	if err != nil {
		return Batch{}, err
	}
	return Batch{QuizID: strings.TrimSpace(string(out.QuizID)), Questions: qs}, nil
}

func decodeQuestions(op string, raw json.RawMessage) ([]quiz.Question, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, apperrors.Protocol(op, "response has no questions field", nil)
	}
	var raws []rawQuestion
	if err := json.Unmarshal(raw, &raws); err != nil {
		return nil, apperrors.Protocol(op, "questions is not a list of questions", raw)
	}
	if len(raws) == 0 {
		return nil, apperrors.Application(op, "backend returned no questions for this topic mix")
	}
	return normalize(op, raws, raw)
}
