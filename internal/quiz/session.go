package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mind-engage/groundschool/internal/apperrors"
)

type State string

const (
	StateOpen      State = "open"
	StateLocked    State = "locked" // submission in flight
	StateSubmitted State = "submitted"
	StateErrored   State = "errored"
)

// Unanswered marks a question with no selection.
const Unanswered = -1

var (
	ErrNotOpen          = errors.New("quiz: session is no longer accepting answers")
	ErrAlreadySubmitted = errors.New("quiz: session was already submitted")
)

// Meta is the attempt context forwarded to graders and reports.
type Meta struct {
	Lesson         string `json:"lesson"`
	StudentName    string `json:"student_name"`
	StudentEmail   string `json:"student_email"`
	Topics         string `json:"topics"`
	RequestedCount int    `json:"requested_count"`
}

// Sheet is the frozen answer set handed to a Grader.
type Sheet struct {
	AttemptID   string
	Questions   []Question
	Selections  []int
	PassPercent float64
	Meta        Meta
}

// SelectedLetters returns one letter per question, "" when unanswered.
func (s Sheet) SelectedLetters() []string {
	out := make([]string, len(s.Questions))
	for i := range s.Questions {
		if i < len(s.Selections) {
			out[i] = Letter(s.Selections[i])
		}
	}
	return out
}

type Result struct {
	Score       int    `json:"score"`
	Total       int    `json:"total"`
	Percent     int    `json:"percent"`
	Passed      bool   `json:"passed"`
	AttemptCode string `json:"attempt_code,omitempty"`
	Delegated   bool   `json:"delegated"`
}

// Grader turns a frozen sheet into a final result.
type Grader interface {
	Grade(ctx context.Context, sheet Sheet) (Result, error)
}

// GraderFunc adapts a function to Grader.
type GraderFunc func(ctx context.Context, sheet Sheet) (Result, error)

func (f GraderFunc) Grade(ctx context.Context, sheet Sheet) (Result, error) { return f(ctx, sheet) }

// Session is one quiz attempt. Questions are fixed at creation; exactly one
// submission is ever attempted.
type Session struct {
	mu          sync.Mutex
	attemptID   string
	questions   []Question
	selections  []int
	passPercent float64
	meta        Meta
	state       State
	result      *Result
	err         error
}

func NewSession(questions []Question, passPercent float64, attemptID string, meta Meta) (*Session, error) {
	if len(questions) == 0 {
		return nil, apperrors.Validation("new session", "a quiz needs at least one question")
	}
	if passPercent < 0 || passPercent > 100 {
		return nil, apperrors.Validation("new session", "pass threshold %.1f outside [0,100]", passPercent)
	}
	qs := make([]Question, len(questions))
	seen := make(map[string]bool, len(questions))
	for i, q := range questions {
		if seen[q.ID] {
			return nil, apperrors.Validation("new session", "duplicate question id %q", q.ID)
		}
		seen[q.ID] = true
		qs[i] = q.clone()
	}
	sel := make([]int, len(qs))
	for i := range sel {
		sel[i] = Unanswered
	}
	return &Session{
		attemptID:   attemptID,
		questions:   qs,
		selections:  sel,
		passPercent: passPercent,
		meta:        meta,
		state:       StateOpen,
	}, nil
}

// RecordAnswer selects choice for question index, replacing any earlier pick.
func (s *Session) RecordAnswer(index, choice int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.questions) {
		return apperrors.Validation("record answer", "question index %d out of range [0,%d)", index, len(s.questions))
	}
	if s.state != StateOpen {
		return ErrNotOpen
	}
	if n := len(s.questions[index].Choices); choice < 0 || choice >= n {
		return apperrors.Validation("record answer", "choice %d out of range for question %d (%d choices)", choice, index, n)
	}
	s.selections[index] = choice
	return nil
}

// Submit locks the session before calling g, so concurrent or repeated calls
// never reach the grader twice. Any grading failure leaves the session
// Errored and still locked.
func (s *Session) Submit(ctx context.Context, g Grader) (Result, error) {
	s.mu.Lock()
	if s.state != StateOpen {
		s.mu.Unlock()
		return Result{}, ErrAlreadySubmitted
	}
	s.state = StateLocked
	sheet := Sheet{
		AttemptID:   s.attemptID,
		Questions:   s.questions,
		Selections:  append([]int(nil), s.selections...),
		PassPercent: s.passPercent,
		Meta:        s.meta,
	}
	s.mu.Unlock()

	res, err := g.Grade(ctx, sheet)
	if err == nil && (res.Total <= 0 || res.Score < 0 || res.Score > res.Total) {
		err = apperrors.Protocol("grade", fmt.Sprintf("implausible result %d/%d", res.Score, res.Total), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateErrored
		s.err = err
		return Result{}, err
	}
	s.state = StateSubmitted
	s.result = &res
	return res, nil
}

func (s *Session) AttemptID() string { return s.attemptID }

func (s *Session) Meta() Meta { return s.meta }

func (s *Session) PassPercent() float64 { return s.passPercent }

func (s *Session) Len() int { return len(s.questions) }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Question returns a copy of question i.
func (s *Session) Question(i int) (Question, bool) {
	if i < 0 || i >= len(s.questions) {
		return Question{}, false
	}
	return s.questions[i].clone(), true
}

// View is a point-in-time copy of the session for display.
type View struct {
	State      State      `json:"state"`
	Questions  []Question `json:"questions"`
	Selections []int      `json:"selections"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Snapshot returns the session with answer keys stripped.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:      s.state,
		Questions:  make([]Question, len(s.questions)),
		Selections: append([]int(nil), s.selections...),
	}
	for i, q := range s.questions {
		v.Questions[i] = q.Public()
	}
	if s.result != nil {
		r := *s.result
		v.Result = &r
	}
	if s.err != nil {
		v.Error = s.err.Error()
	}
	return v
}
