package lessongrade

import (
	"math"
	"strings"
	"time"

	"github.com/mind-engage/groundschool/internal/apperrors"
)

const op = "lesson_submit"

// Policy holds the grading rules enforced before a form is sent.
type Policy struct {
	// MaxCarryForward is how many U items an overall S may carry forward.
	MaxCarryForward int
}

var DefaultPolicy = Policy{MaxCarryForward: 2}

// Prepare validates f against the roster and lesson and returns the
// normalized form with the outcome it implies. Nothing here touches the
// network.
func (p Policy) Prepare(f Form, roster []Student, lesson Lesson) (Form, Outcome, error) {
	email := strings.TrimSpace(f.StudentEmail)
	if email == "" {
		return Form{}, Outcome{}, apperrors.Validation(op, "student email is required")
	}
	known := false
	for _, s := range roster {
		if strings.EqualFold(strings.TrimSpace(s.Email), email) {
			email = strings.TrimSpace(s.Email)
			known = true
			break
		}
	}
	if !known {
		return Form{}, Outcome{}, apperrors.Validation(op, "student %s is not on the roster", email)
	}
	f.StudentEmail = email

	f.Lesson = strings.TrimSpace(f.Lesson)
	if f.Lesson == "" {
		f.Lesson = lesson.Code
	}
	if lesson.Code != "" && !strings.EqualFold(f.Lesson, lesson.Code) {
		return Form{}, Outcome{}, apperrors.Validation(op, "form is for lesson %s, not %s", f.Lesson, lesson.Code)
	}

	overall, ok := ParseGrade(string(f.OverallGrade))
	if !ok {
		return Form{}, Outcome{}, apperrors.Validation(op, "overall grade %q must be S, I or U", f.OverallGrade)
	}
	f.OverallGrade = overall

	if _, err := time.Parse(DateLayout, strings.TrimSpace(f.Date)); err != nil {
		return Form{}, Outcome{}, apperrors.Validation(op, "date %q must be YYYY-MM-DD", f.Date)
	}
	f.Date = strings.TrimSpace(f.Date)

	if IsFlight(lesson.Type) {
		f.AircraftType = strings.TrimSpace(f.AircraftType)
		f.TailNumber = strings.TrimSpace(f.TailNumber)
		if f.AircraftType == "" {
			return Form{}, Outcome{}, apperrors.Validation(op, "aircraft type is required for flight lesson %s", lesson.Code)
		}
		if f.TailNumber == "" {
			return Form{}, Outcome{}, apperrors.Validation(op, "tail number is required for flight lesson %s", lesson.Code)
		}
	}
	if f.Landings < 0 {
		return Form{}, Outcome{}, apperrors.Validation(op, "landings must not be negative")
	}
	for cat, h := range f.TimeTotals {
		if h < 0 || math.IsNaN(h) || math.IsInf(h, 0) {
			return Form{}, Outcome{}, apperrors.Validation(op, "time total %s must be a non-negative number of hours", cat)
		}
	}

	allowed := map[string]bool{}
	for _, code := range lesson.Items {
		allowed[strings.ToUpper(strings.TrimSpace(code))] = true
	}
	seen := map[string]bool{}
	items := make([]LineItem, len(f.LineItems))
	var unsat []string
	for i, it := range f.LineItems {
		it.ItemCode = strings.TrimSpace(it.ItemCode)
		key := strings.ToUpper(it.ItemCode)
		if it.ItemCode == "" {
			return Form{}, Outcome{}, apperrors.Validation(op, "line item %d has no item code", i+1)
		}
		if seen[key] {
			return Form{}, Outcome{}, apperrors.Validation(op, "line item %s appears twice", it.ItemCode)
		}
		seen[key] = true
		if len(allowed) > 0 && !allowed[key] {
			return Form{}, Outcome{}, apperrors.Validation(op, "line item %s is not part of lesson %s", it.ItemCode, lesson.Code)
		}
		g, ok := ParseGrade(string(it.Grade))
		if !ok {
			return Form{}, Outcome{}, apperrors.Validation(op, "line item %s: grade %q must be S, I or U", it.ItemCode, it.Grade)
		}
		it.Grade = g
		it.Comment = strings.TrimSpace(it.Comment)
		if g == Unsatisfactory {
			if it.Comment == "" {
				return Form{}, Outcome{}, apperrors.Validation(op, "line item %s is graded U and needs a comment", it.ItemCode)
			}
			unsat = append(unsat, it.ItemCode)
		}
		items[i] = it
	}
	f.LineItems = items

	out := Outcome{Draft: overall == Incomplete}
	if overall == Satisfactory && len(unsat) > 0 {
		if len(unsat) > p.MaxCarryForward {
			return Form{}, Outcome{}, apperrors.Validation(op,
				"overall S allows at most %d U items to carry forward, got %d (%s)",
				p.MaxCarryForward, len(unsat), strings.Join(unsat, ", "))
		}
		out.CarryForward = unsat
	}
	return f, out, nil
}
