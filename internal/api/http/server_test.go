package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/groundschool/internal/apperrors"
	authmw "github.com/mind-engage/groundschool/internal/auth/middleware"
	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/grading"
	"github.com/mind-engage/groundschool/internal/journal"
	"github.com/mind-engage/groundschool/internal/lessongrade"
	"github.com/mind-engage/groundschool/internal/quiz"
)

type fakeBank struct {
	mu    sync.Mutex
	calls []backend.FetchRequest
	err   func(code string) error
}

func (b *fakeBank) FetchQuestions(_ context.Context, req backend.FetchRequest) (backend.Batch, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req)
	b.mu.Unlock()
	if b.err != nil {
		if err := b.err(req.AccessCode); err != nil {
			return backend.Batch{}, err
		}
	}
	correct := []string{"A", "B", "X", "D", "A"}
	qs := make([]quiz.Question, len(correct))
	for i, c := range correct {
		qs[i] = quiz.Question{ID: fmt.Sprintf("q%d", i), Text: "stem", Choices: []string{"1", "2", "3", "4"}, Correct: c, Explanation: "because"}
	}
	qs[1].Figure = &quiz.Figure{PrimaryURL: "http://img/broken.png", AlternateURL: "http://img/alt.png", Number: "7"}
	return backend.Batch{QuizID: "quiz-42", Questions: qs}, nil
}

func (b *fakeBank) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

type slowGrader struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (g *slowGrader) Grade(ctx context.Context, sheet quiz.Sheet) (quiz.Result, error) {
	g.calls.Add(1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return quiz.Result{}, g.err
	}
	return (&grading.Local{}).Grade(ctx, sheet)
}

type fakeBackend struct {
	finalizes atomic.Int32
	submits   atomic.Int32
	bearer    string
}

func (f *fakeBackend) Finalize(context.Context, string, string) (backend.Eligibility, error) {
	f.finalizes.Add(1)
	return backend.Eligibility{Eligible: true}, nil
}

func (f *fakeBackend) Login(_ context.Context, u, p string) (backend.Instructor, error) {
	if p != "pw" {
		return backend.Instructor{}, apperrors.Auth("login", "invalid credentials")
	}
	return backend.Instructor{Token: "backend-" + u, Username: u, Name: "Chris"}, nil
}

func (f *fakeBackend) AsInstructor(_ context.Context, token string) LessonBackend {
	f.bearer = token
	return f
}

func (f *fakeBackend) Roster(context.Context) ([]lessongrade.Student, error) {
	return []lessongrade.Student{{Name: "Sam", Email: "sam@example.com"}}, nil
}

func (f *fakeBackend) Lesson(_ context.Context, code string) (lessongrade.Lesson, error) {
	return lessongrade.Lesson{Code: code, Type: "FL", Items: []string{"TO", "LDG"}}, nil
}

func (f *fakeBackend) SubmitLessonGrade(context.Context, lessongrade.Form) (lessongrade.Outcome, error) {
	f.submits.Add(1)
	return lessongrade.Outcome{CarryForward: []string{}}, nil
}

type fakeProber struct{}

func (fakeProber) Probe(_ context.Context, u string) error {
	if strings.Contains(u, "broken") {
		return errors.New("404")
	}
	return nil
}

// flakyProber fails the first probe of every URL and passes later ones.
type flakyProber struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *flakyProber) Probe(_ context.Context, u string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[u]++
	if p.calls[u] == 1 {
		return errors.New("connection reset")
	}
	return nil
}

type memJournal struct {
	mu    sync.Mutex
	types []journal.Type
}

func (j *memJournal) Record(_ context.Context, typ journal.Type, _ string, _ any) error {
	j.mu.Lock()
	j.types = append(j.types, typ)
	j.mu.Unlock()
	return nil
}

func (j *memJournal) count(typ journal.Type) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, t := range j.types {
		if t == typ {
			n++
		}
	}
	return n
}

type harness struct {
	srv     *httptest.Server
	bank    *fakeBank
	grader  *slowGrader
	backend *fakeBackend
	journal *memJournal
	server  *Server
}

func newHarness(t *testing.T, set Settings) *harness {
	t.Helper()
	h := &harness{bank: &fakeBank{}, grader: &slowGrader{}, backend: &fakeBackend{}, journal: &memJournal{}}
	if set.PassPercent == 0 {
		set.PassPercent = 80
	}
	if set.DefaultTopicCount == 0 {
		set.DefaultTopicCount = 3
	}
	h.server = NewServer(Deps{
		Bank:    h.bank,
		Grader:  h.grader,
		Backend: h.backend,
		Auth:    authmw.NewAuthService("test-key", time.Hour),
		Journal: h.journal,
		Figures: fakeProber{},
		Policy:  lessongrade.DefaultPolicy,
	}, set)
	r := chi.NewRouter()
	h.server.Mount(r)
	h.srv = httptest.NewServer(r)
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path, token string, body any) (int, map[string]any, *http.Response) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, h.srv.URL+path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	c := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, resp
}

func (h *harness) create(t *testing.T, body map[string]any) (string, string) {
	t.Helper()
	code, out, _ := h.do(t, http.MethodPost, "/sessions", "", body)
	if code != http.StatusCreated {
		t.Fatalf("create: status %d body %v", code, out)
	}
	return out["session_id"].(string), out["token"].(string)
}

func TestEmptyTopicsRejectedBeforeFetch(t *testing.T) {
	h := newHarness(t, Settings{})
	code, out, _ := h.do(t, http.MethodPost, "/sessions", "", map[string]any{"lesson": "L1", "topics": ""})
	if code != http.StatusBadRequest || out["kind"] != "validation" {
		t.Fatalf("status %d body %v", code, out)
	}
	if h.bank.count() != 0 {
		t.Fatal("bank was called")
	}
}

func TestQuizLifecycle(t *testing.T) {
	h := newHarness(t, Settings{})
	code, out, _ := h.do(t, http.MethodPost, "/sessions", "", map[string]any{"lesson": "L1", "topics": "G1.X-K:4,Airspace:x"})
	if code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, out)
	}
	id, tok := out["session_id"].(string), out["token"].(string)
	for _, q := range out["questions"].([]any) {
		qm := q.(map[string]any)
		if _, leaked := qm["correct"]; leaked {
			t.Fatalf("answer key leaked: %v", qm)
		}
	}
	if req := h.bank.calls[0]; req.Topics.String() != "G1.X-K:4,Airspace:3" {
		t.Fatalf("topics sent: %s", req.Topics)
	}

	for i, choice := range []int{0, 1, 2, 3, 0} {
		if code, out, _ := h.do(t, http.MethodPut, fmt.Sprintf("/sessions/%s/answers/%d", id, i), tok, map[string]int{"choice": choice}); code != http.StatusNoContent {
			t.Fatalf("answer %d: %d %v", i, code, out)
		}
	}
	if code, _, _ := h.do(t, http.MethodPut, "/sessions/"+id+"/answers/9", tok, map[string]int{"choice": 0}); code != http.StatusBadRequest {
		t.Fatalf("out of range answer: %d", code)
	}

	code, out, _ = h.do(t, http.MethodPost, "/sessions/"+id+"/submit", tok, nil)
	if code != http.StatusOK {
		t.Fatalf("submit: %d %v", code, out)
	}
	res := out["result"].(map[string]any)
	if res["score"].(float64) != 4 || res["total"].(float64) != 5 || res["percent"].(float64) != 80 || res["passed"] != true {
		t.Fatalf("result %v", res)
	}
	if out["endorsement_available"] != false {
		t.Fatalf("endorsement offered for L1: %v", out)
	}

	if code, _, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/submit", tok, nil); code != http.StatusConflict {
		t.Fatalf("second submit: %d", code)
	}
	if code, _, _ := h.do(t, http.MethodPut, "/sessions/"+id+"/answers/0", tok, map[string]int{"choice": 3}); code != http.StatusConflict {
		t.Fatalf("answer after submit: %d", code)
	}
	if h.grader.calls.Load() != 1 {
		t.Fatalf("grader calls = %d", h.grader.calls.Load())
	}

	code, out, _ = h.do(t, http.MethodGet, "/sessions/"+id, tok, nil)
	if code != http.StatusOK || out["state"] != "submitted" || out["attempt_id"] != "quiz-42" {
		t.Fatalf("get: %d %v", code, out)
	}
}

func TestConcurrentSubmitGradesOnce(t *testing.T) {
	h := newHarness(t, Settings{})
	h.grader.delay = 50 * time.Millisecond
	id, tok := h.create(t, map[string]any{"topics": "G1:5"})

	var wg sync.WaitGroup
	var ok, conflict atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, _, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/submit", tok, nil)
			switch code {
			case http.StatusOK:
				ok.Add(1)
			case http.StatusConflict:
				conflict.Add(1)
			}
		}()
	}
	wg.Wait()
	if h.grader.calls.Load() != 1 || ok.Load() != 1 || conflict.Load() != 4 {
		t.Fatalf("grader=%d ok=%d conflict=%d", h.grader.calls.Load(), ok.Load(), conflict.Load())
	}
	if n := h.journal.count(journal.SubmitStarted); n != 1 {
		t.Fatalf("submit_started journaled %d times", n)
	}
	if n := h.journal.count(journal.SubmitSucceeded); n != 1 {
		t.Fatalf("submit_succeeded journaled %d times", n)
	}
}

func TestSubmitFailureLeavesErrored(t *testing.T) {
	h := newHarness(t, Settings{})
	h.grader.err = apperrors.Timeout("grade", context.DeadlineExceeded)
	id, tok := h.create(t, map[string]any{"topics": "G1:5"})

	code, out, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/submit", tok, nil)
	if code != http.StatusGatewayTimeout || out["kind"] != "network" {
		t.Fatalf("submit: %d %v", code, out)
	}
	_, out, _ = h.do(t, http.MethodGet, "/sessions/"+id, tok, nil)
	if out["state"] != "errored" {
		t.Fatalf("state = %v", out["state"])
	}
	if code, _, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/submit", tok, nil); code != http.StatusConflict {
		t.Fatalf("retry after failure: %d", code)
	}
}

func TestFetchFailureWithoutGateCreatesNothing(t *testing.T) {
	h := newHarness(t, Settings{})
	h.bank.err = func(string) error {
		return apperrors.Protocol("questions_buckets", "response is not JSON", []byte("<html>"))
	}
	code, out, _ := h.do(t, http.MethodPost, "/sessions", "", map[string]any{"topics": "G1:2"})
	if code != http.StatusBadGateway || out["kind"] != "protocol" {
		t.Fatalf("status %d body %v", code, out)
	}
	if h.server.registry.Len() != 0 {
		t.Fatalf("registry holds %d attempts", h.server.registry.Len())
	}
}

func TestGateFlow(t *testing.T) {
	h := newHarness(t, Settings{GateRequired: true})
	h.bank.err = func(code string) error {
		if code != "cessna" {
			return apperrors.Auth("questions_buckets", "bad_code")
		}
		return nil
	}

	code, out, _ := h.do(t, http.MethodPost, "/sessions", "", map[string]any{"topics": "G1:2"})
	if code != http.StatusLocked || out["state"] != "locked" {
		t.Fatalf("create: %d %v", code, out)
	}
	if h.bank.count() != 0 {
		t.Fatal("locked create fetched questions")
	}
	id, tok := out["session_id"].(string), out["token"].(string)

	if code, _, _ := h.do(t, http.MethodPut, "/sessions/"+id+"/answers/0", tok, map[string]int{"choice": 0}); code != http.StatusLocked {
		t.Fatalf("answer while locked: %d", code)
	}
	code, out, _ = h.do(t, http.MethodPost, "/sessions/"+id+"/unlock", tok, map[string]string{"code": "piper"})
	if code != http.StatusLocked || out["state"] != "locked" {
		t.Fatalf("bad code: %d %v", code, out)
	}
	code, out, _ = h.do(t, http.MethodPost, "/sessions/"+id+"/unlock", tok, map[string]string{"code": "cessna"})
	if code != http.StatusOK || out["state"] != "open" || len(out["questions"].([]any)) != 5 {
		t.Fatalf("good code: %d %v", code, out)
	}
	if code, _, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/unlock", tok, map[string]string{"code": "cessna"}); code != http.StatusConflict {
		t.Fatalf("unlock twice: %d", code)
	}
}

func TestPrefilledCodeAutoUnlocks(t *testing.T) {
	h := newHarness(t, Settings{GateRequired: true})
	h.bank.err = func(code string) error {
		if code != "cessna" {
			return apperrors.Auth("quiz", "locked")
		}
		return nil
	}
	code, out, _ := h.do(t, http.MethodPost, "/sessions", "", map[string]any{"topics": "G1:2", "code": "cessna"})
	if code != http.StatusCreated || out["state"] != "open" {
		t.Fatalf("auto-unlock: %d %v", code, out)
	}
	code, out, _ = h.do(t, http.MethodPost, "/sessions", "", map[string]any{"topics": "G1:2", "code": "wrong"})
	if code != http.StatusLocked || out["token"] == nil {
		t.Fatalf("failed auto-unlock: %d %v", code, out)
	}
	if h.bank.count() != 2 {
		t.Fatalf("fetches = %d", h.bank.count())
	}
}

func TestTokenBoundToSession(t *testing.T) {
	h := newHarness(t, Settings{})
	idA, _ := h.create(t, map[string]any{"topics": "G1:2"})
	_, tokB := h.create(t, map[string]any{"topics": "G1:2"})
	if code, _, _ := h.do(t, http.MethodGet, "/sessions/"+idA, tokB, nil); code != http.StatusForbidden {
		t.Fatalf("foreign token: %d", code)
	}
	if code, _, _ := h.do(t, http.MethodGet, "/sessions/"+idA, "", nil); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
}

func TestEndorsementOnce(t *testing.T) {
	h := newHarness(t, Settings{FinalLesson: "FINAL"})
	id, tok := h.create(t, map[string]any{"topics": "G1:5", "lesson": "final", "name": "Sam", "email": "sam@example.com"})

	if code, _, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/endorsement", tok, nil); code != http.StatusConflict {
		t.Fatalf("endorsement before submit: %d", code)
	}
	for i, c := range []int{0, 1, 2, 3, 0} {
		h.do(t, http.MethodPut, fmt.Sprintf("/sessions/%s/answers/%d", id, i), tok, map[string]int{"choice": c})
	}
	_, out, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/submit", tok, nil)
	if out["endorsement_available"] != true {
		t.Fatalf("submit: %v", out)
	}
	code, out, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/endorsement", tok, nil)
	if code != http.StatusOK || out["eligible"] != true {
		t.Fatalf("endorsement: %d %v", code, out)
	}
	if code, _, _ := h.do(t, http.MethodPost, "/sessions/"+id+"/endorsement", tok, nil); code != http.StatusConflict {
		t.Fatalf("second endorsement: %d", code)
	}
	if h.backend.finalizes.Load() != 1 {
		t.Fatalf("finalize calls = %d", h.backend.finalizes.Load())
	}
	_, out, _ = h.do(t, http.MethodGet, "/sessions/"+id, tok, nil)
	if e := out["endorsement"].(map[string]any); e["used"] != true {
		t.Fatalf("endorsement view %v", e)
	}
}

func TestFigureRedirect(t *testing.T) {
	h := newHarness(t, Settings{})
	id, tok := h.create(t, map[string]any{"topics": "G1:5"})

	code, _, resp := h.do(t, http.MethodGet, "/sessions/"+id+"/questions/1/figure", tok, nil)
	if code != http.StatusFound || resp.Header.Get("Location") != "http://img/alt.png" {
		t.Fatalf("figure: %d %s", code, resp.Header.Get("Location"))
	}
	if code, _, _ := h.do(t, http.MethodGet, "/sessions/"+id+"/questions/0/figure", tok, nil); code != http.StatusNotFound {
		t.Fatalf("no figure: %d", code)
	}
}

func TestFigureOutcomesAreScopedToAttempt(t *testing.T) {
	h := newHarness(t, Settings{})
	p := &flakyProber{}
	h.server.prober = p

	id, tok := h.create(t, map[string]any{"topics": "G1:5"})
	path := "/sessions/" + id + "/questions/1/figure"
	if code, _, resp := h.do(t, http.MethodGet, path, tok, nil); code != http.StatusFound || resp.Header.Get("Location") != "http://img/alt.png" {
		t.Fatalf("first attempt: %d %s", code, resp.Header.Get("Location"))
	}
	// Same attempt: the failed primary is remembered and not probed again.
	if code, _, resp := h.do(t, http.MethodGet, path, tok, nil); code != http.StatusFound || resp.Header.Get("Location") != "http://img/alt.png" {
		t.Fatalf("same attempt: %d %s", code, resp.Header.Get("Location"))
	}

	id2, tok2 := h.create(t, map[string]any{"topics": "G1:5"})
	code, _, resp := h.do(t, http.MethodGet, "/sessions/"+id2+"/questions/1/figure", tok2, nil)
	if code != http.StatusFound || resp.Header.Get("Location") != "http://img/broken.png" {
		t.Fatalf("fresh attempt: %d %s", code, resp.Header.Get("Location"))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls["http://img/broken.png"] != 2 || p.calls["http://img/alt.png"] != 1 {
		t.Fatalf("probe counts = %v", p.calls)
	}
}

func TestInstructorFlow(t *testing.T) {
	h := newHarness(t, Settings{})
	if code, _, _ := h.do(t, http.MethodPost, "/instructor/login", "", map[string]string{"username": "cfi", "password": "nope"}); code != http.StatusUnauthorized {
		t.Fatalf("bad login: %d", code)
	}
	code, out, _ := h.do(t, http.MethodPost, "/instructor/login", "", map[string]string{"username": "cfi", "password": "pw"})
	if code != http.StatusOK {
		t.Fatalf("login: %d %v", code, out)
	}
	tok := out["token"].(string)

	code, out, _ = h.do(t, http.MethodGet, "/instructor/lessons/FL3/form", tok, nil)
	if code != http.StatusOK || out["flight"] != true || h.backend.bearer != "backend-cfi" {
		t.Fatalf("form: %d %v bearer=%q", code, out, h.backend.bearer)
	}

	form := map[string]any{
		"studentEmail": "SAM@example.com",
		"overallGrade": "S",
		"date":         "2026-10-16",
		"aircraftType": "C172",
		"tailNumber":   "N1",
		"landings":     3,
		"lineItems":    []map[string]string{{"itemCode": "TO", "grade": "U"}},
	}
	code, out, _ = h.do(t, http.MethodPost, "/instructor/lessons/FL3/grade", tok, form)
	if code != http.StatusUnprocessableEntity || !strings.Contains(out["error"].(string), "TO") {
		t.Fatalf("invalid form: %d %v", code, out)
	}
	if h.backend.submits.Load() != 0 {
		t.Fatal("invalid form was submitted")
	}

	form["lineItems"] = []map[string]string{{"itemCode": "TO", "grade": "U", "comment": "long float"}}
	code, out, _ = h.do(t, http.MethodPost, "/instructor/lessons/FL3/grade", tok, form)
	if code != http.StatusOK || h.backend.submits.Load() != 1 {
		t.Fatalf("valid form: %d %v", code, out)
	}

	_, studentTok := h.create(t, map[string]any{"topics": "G1:1"})
	if code, _, _ := h.do(t, http.MethodGet, "/instructor/lessons/FL3/form", studentTok, nil); code != http.StatusForbidden {
		t.Fatalf("student on instructor route: %d", code)
	}
	// A restart drops held bearers; the still-signed token must log in again.
	h.server.auth = authmw.NewAuthService("test-key", time.Hour)
	if code, _, _ := h.do(t, http.MethodGet, "/instructor/lessons/FL3/form", tok, nil); code != http.StatusUnauthorized {
		t.Fatalf("form after restart: %d", code)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{apperrors.Validation("x", "bad"), http.StatusBadRequest},
		{apperrors.Auth("x", "locked"), http.StatusLocked},
		{apperrors.Network("x", errors.New("reset")), http.StatusBadGateway},
		{apperrors.Timeout("x", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{apperrors.Protocol("x", "html", nil), http.StatusBadGateway},
		{apperrors.Application("x", "sheet full"), http.StatusBadGateway},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
