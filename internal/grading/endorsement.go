package grading

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/quiz"
)

// DefaultFinalLesson is the lesson code whose pass unlocks the endorsement check.
const DefaultFinalLesson = "FINAL"

var ErrEndorsementUsed = errors.New("grading: endorsement check already requested")

type Finalizer interface {
	Finalize(ctx context.Context, studentName, studentEmail string) (backend.Eligibility, error)
}

// Endorsement is the one-shot eligibility check offered after passing the
// final lesson. The check may email an instructor, so it runs at most once
// whether it succeeds or fails.
type Endorsement struct {
	f Finalizer

	mu     sync.Mutex
	used   bool
	result *backend.Eligibility
	err    error
}

// Offer returns an Endorsement when lesson is the final lesson and res passed.
func Offer(lesson, finalLesson string, res quiz.Result, f Finalizer) (*Endorsement, bool) {
	if finalLesson == "" {
		finalLesson = DefaultFinalLesson
	}
	if !res.Passed || !strings.EqualFold(strings.TrimSpace(lesson), finalLesson) {
		return nil, false
	}
	return &Endorsement{f: f}, true
}

// Request runs the check. Every call after the first returns ErrEndorsementUsed.
func (e *Endorsement) Request(ctx context.Context, studentName, studentEmail string) (backend.Eligibility, error) {
	e.mu.Lock()
	if e.used {
		e.mu.Unlock()
		return backend.Eligibility{}, ErrEndorsementUsed
	}
	e.used = true
	e.mu.Unlock()

	el, err := e.f.Finalize(ctx, studentName, studentEmail)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.err = err
		return backend.Eligibility{}, err
	}
	e.result = &el
	return el, nil
}

// Used reports whether the control should still be offered.
func (e *Endorsement) Used() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.used
}

// Outcome returns the stored result of the single request, if it finished.
func (e *Endorsement) Outcome() (*backend.Eligibility, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result == nil {
		return nil, e.err
	}
	r := *e.result
	return &r, e.err
}
