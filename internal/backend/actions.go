package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/mind-engage/groundschool/internal/apperrors"
	"github.com/mind-engage/groundschool/internal/lessongrade"
)

// GradeAnswer pairs a question with the chosen index; nil means unanswered.
type GradeAnswer struct {
	ID          string `json:"id"`
	ChoiceIndex *int   `json:"choiceIndex"`
}

type GradeRequest struct {
	QuizID         string        `json:"quizId"`
	Name           string        `json:"name"`
	Email          string        `json:"email"`
	PassPercent    float64       `json:"passPercent"`
	TopicsSpec     string        `json:"topicsSpec"`
	RequestedCount int           `json:"requestedCount"`
	Answers        []GradeAnswer `json:"answers"`
}

type GradeResponse struct {
	Score       int    `json:"score"`
	Total       int    `json:"total"`
	Passed      bool   `json:"passed"`
	AttemptCode string `json:"attemptCode"`
}

// Grade asks the backend to score an attempt. Its answer is final.
func (c *Client) Grade(ctx context.Context, req GradeRequest) (GradeResponse, error) {
	var out struct {
		Score       *int       `json:"score"`
		Total       *int       `json:"total"`
		Passed      *bool      `json:"passed"`
		AttemptCode flexString `json:"attemptCode"`
	}
	if err := c.do(ctx, call{method: http.MethodPost, action: "grade", body: req}, &out); err != nil {
		return GradeResponse{}, err
	}
	if out.Score == nil || out.Total == nil || out.Passed == nil {
		return GradeResponse{}, apperrors.Protocol("grade", "response missing score, total or passed", nil)
	}
	return GradeResponse{
		Score:       *out.Score,
		Total:       *out.Total,
		Passed:      *out.Passed,
		AttemptCode: string(out.AttemptCode),
	}, nil
}

// ResultReport is the legacy "submit" payload for locally scored attempts.
type ResultReport struct {
	Student     string            `json:"student"`
	Email       string            `json:"email"`
	Lesson      string            `json:"lesson"`
	Score       int               `json:"score"`
	Total       int               `json:"total"`
	Answers     map[string]string `json:"answers"` // question id -> letter, "" when unanswered
	PassPercent float64           `json:"passPercent"`
}

// SubmitResult records a locally scored attempt. The response body carries
// nothing the client needs beyond success.
func (c *Client) SubmitResult(ctx context.Context, rep ResultReport) error {
	return c.do(ctx, call{method: http.MethodPost, action: "submit", body: rep}, nil)
}

type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// Finalize requests the endorsement eligibility check. The backend may
// notify an instructor as a side effect.
func (c *Client) Finalize(ctx context.Context, studentName, studentEmail string) (Eligibility, error) {
	var out Eligibility
	body := map[string]string{"studentName": studentName, "studentEmail": studentEmail}
	if err := c.do(ctx, call{method: http.MethodPost, action: "finalize", body: body}, &out); err != nil {
		return Eligibility{}, err
	}
	return out, nil
}

type Instructor struct {
	Token    string `json:"-"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Login authenticates an instructor. Credentials travel in the POST body.
// Both {token,user} and {success,user} response shapes are accepted.
func (c *Client) Login(ctx context.Context, username, password string) (Instructor, error) {
	var out struct {
		Token   string          `json:"token"`
		Success *bool           `json:"success"`
		User    json.RawMessage `json:"user"`
	}
	body := map[string]string{"username": username, "password": password}
	err := c.do(ctx, call{method: http.MethodPost, action: "login", body: body}, &out)
	var ae *apperrors.Error
	if errors.As(err, &ae) && ae.Kind == apperrors.KindApplication {
		return Instructor{}, apperrors.Auth("login", ae.Message)
	}
	if err != nil {
		return Instructor{}, err
	}
	if out.Token == "" && (out.Success == nil || !*out.Success) {
		return Instructor{}, apperrors.Auth("login", "invalid credentials")
	}
	in := Instructor{Token: out.Token, Username: username}
	var name string
	if json.Unmarshal(out.User, &name) == nil {
		in.Name = name
	} else {
		var u struct {
			Username string `json:"username"`
			Name     string `json:"name"`
			Email    string `json:"email"`
		}
		if json.Unmarshal(out.User, &u) == nil {
			in.Name, in.Email = u.Name, u.Email
			if u.Username != "" {
				in.Username = u.Username
			}
		}
	}
	return in, nil
}

// Roster lists the students an instructor may grade.
func (c *Client) Roster(ctx context.Context) ([]lessongrade.Student, error) {
	var out struct {
		Students []lessongrade.Student `json:"students"`
	}
	if err := c.do(ctx, call{method: http.MethodGet, action: "roster"}, &out); err != nil {
		return nil, err
	}
	return out.Students, nil
}

// Lesson loads grading metadata for one lesson code.
func (c *Client) Lesson(ctx context.Context, code string) (lessongrade.Lesson, error) {
	var out lessongrade.Lesson
	q := url.Values{"code": {strings.TrimSpace(code)}}
	if err := c.do(ctx, call{method: http.MethodGet, action: "lesson", query: q}, &out); err != nil {
		return lessongrade.Lesson{}, err
	}
	if out.Code == "" {
		out.Code = code
	}
	return out, nil
}

// SubmitLessonGrade sends a validated form.
func (c *Client) SubmitLessonGrade(ctx context.Context, form lessongrade.Form) (lessongrade.Outcome, error) {
	var out lessongrade.Outcome
	if err := c.do(ctx, call{method: http.MethodPost, action: "lesson_submit", body: form}, &out); err != nil {
		return lessongrade.Outcome{}, err
	}
	return out, nil
}
