// Package grading turns a frozen quiz sheet into a result, either on the
// client or by delegating to the backend.
package grading

import (
	"context"
	"fmt"

	"github.com/mind-engage/groundschool/internal/apperrors"
	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/quiz"
)

// Reporter records a locally scored attempt.
type Reporter interface {
	SubmitResult(ctx context.Context, rep backend.ResultReport) error
}

// Remote scores an attempt authoritatively.
type Remote interface {
	Grade(ctx context.Context, req backend.GradeRequest) (backend.GradeResponse, error)
}

type Option func(*config)

type config struct {
	report bool
}

// WithReporting controls whether locally scored attempts are reported with
// action=submit. Reporting is on by default.
func WithReporting(b bool) Option { return func(c *config) { c.report = b } }

// New picks the grader that matches the backend contract.
func New(mode backend.Mode, c *backend.Client, opts ...Option) (quiz.Grader, error) {
	cfg := &config{report: true}
	for _, o := range opts {
		o(cfg)
	}
	switch mode {
	case backend.ModeQuiz:
		l := &Local{}
		if cfg.report {
			l.Reporter = c
		}
		return l, nil
	case backend.ModeBuckets:
		return &Delegated{Remote: c}, nil
	}
	return nil, fmt.Errorf("grading: unknown backend mode %q", mode)
}

// Local compares selected letters with the answer key fetched alongside the
// questions, then reports the outcome if a Reporter is set. A failed report
// fails the grade.
type Local struct {
	Reporter Reporter
}

func (l *Local) Grade(ctx context.Context, sheet quiz.Sheet) (quiz.Result, error) {
	res := quiz.LocalResult(sheet)
	if l.Reporter == nil {
		return res, nil
	}
	letters := sheet.SelectedLetters()
	answers := make(map[string]string, len(sheet.Questions))
	for i, q := range sheet.Questions {
		answers[q.ID] = letters[i]
	}
	err := l.Reporter.SubmitResult(ctx, backend.ResultReport{
		Student:     sheet.Meta.StudentName,
		Email:       sheet.Meta.StudentEmail,
		Lesson:      sheet.Meta.Lesson,
		Score:       res.Score,
		Total:       res.Total,
		Answers:     answers,
		PassPercent: sheet.PassPercent,
	})
	if err != nil {
		return quiz.Result{}, fmt.Errorf("report result: %w", err)
	}
	return res, nil
}

// Delegated sends raw selections to the backend. The server's score and
// pass flag are final; nothing is computed locally except the percentage.
type Delegated struct {
	Remote Remote
}

func (d *Delegated) Grade(ctx context.Context, sheet quiz.Sheet) (quiz.Result, error) {
	answers := make([]backend.GradeAnswer, len(sheet.Questions))
	for i, q := range sheet.Questions {
		answers[i] = backend.GradeAnswer{ID: q.ID}
		if i < len(sheet.Selections) && sheet.Selections[i] != quiz.Unanswered {
			idx := sheet.Selections[i]
			answers[i].ChoiceIndex = &idx
		}
	}
	resp, err := d.Remote.Grade(ctx, backend.GradeRequest{
		QuizID:         sheet.AttemptID,
		Name:           sheet.Meta.StudentName,
		Email:          sheet.Meta.StudentEmail,
		PassPercent:    sheet.PassPercent,
		TopicsSpec:     sheet.Meta.Topics,
		RequestedCount: sheet.Meta.RequestedCount,
		Answers:        answers,
	})
	if err != nil {
		return quiz.Result{}, err
	}
	if resp.Total <= 0 || resp.Score < 0 || resp.Score > resp.Total {
		return quiz.Result{}, apperrors.Protocol("grade", fmt.Sprintf("implausible result %d/%d", resp.Score, resp.Total), nil)
	}
	return quiz.Result{
		Score:       resp.Score,
		Total:       resp.Total,
		Percent:     quiz.Percent(resp.Score, resp.Total),
		Passed:      resp.Passed,
		AttemptCode: resp.AttemptCode,
		Delegated:   true,
	}, nil
}
