package lessongrade

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type RosterSource interface {
	Roster(ctx context.Context) ([]Student, error)
}

type LessonSource interface {
	Lesson(ctx context.Context, code string) (Lesson, error)
}

type Submitter interface {
	SubmitLessonGrade(ctx context.Context, f Form) (Outcome, error)
}

// Sheet is everything the grading form is rendered from.
type Sheet struct {
	Lesson Lesson    `json:"lesson"`
	Roster []Student `json:"roster"`
}

// Load fetches roster and lesson metadata concurrently. The first failure
// cancels the other fetch and no partial sheet is returned.
func Load(ctx context.Context, rs RosterSource, ls LessonSource, code string) (Sheet, error) {
	var sh Sheet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := rs.Roster(gctx)
		if err != nil {
			return fmt.Errorf("load roster: %w", err)
		}
		sh.Roster = r
		return nil
	})
	g.Go(func() error {
		l, err := ls.Lesson(gctx, code)
		if err != nil {
			return fmt.Errorf("load lesson %s: %w", code, err)
		}
		sh.Lesson = l
		return nil
	})
	if err := g.Wait(); err != nil {
		return Sheet{}, err
	}
	return sh, nil
}

// Submit validates f, then sends it. Validation failures never reach s.
// When the backend omits carry-forward details the locally planned outcome
// fills them in.
func (p Policy) Submit(ctx context.Context, s Submitter, f Form, sh Sheet) (Form, Outcome, error) {
	f, planned, err := p.Prepare(f, sh.Roster, sh.Lesson)
	if err != nil {
		return Form{}, Outcome{}, err
	}
	got, err := s.SubmitLessonGrade(ctx, f)
	if err != nil {
		return f, Outcome{}, err
	}
	if !got.Draft && got.CarryForward == nil {
		got = planned
	}
	return f, got, nil
}
