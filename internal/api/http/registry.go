package http

import (
	"sync"
	"time"

	"github.com/mind-engage/groundschool/internal/figure"
	"github.com/mind-engage/groundschool/internal/gate"
	"github.com/mind-engage/groundschool/internal/grading"
	"github.com/mind-engage/groundschool/internal/quiz"
)

// attempt is one browser's quiz attempt: a gate, and once the gate opens,
// the session itself. Figure outcomes are remembered for the attempt only.
type attempt struct {
	id          string
	meta        quiz.Meta
	passPercent float64
	gate        *gate.Gate
	figures     *figure.Resolver
	created     time.Time

	mu          sync.Mutex
	session     *quiz.Session
	endorsement *grading.Endorsement
}

func (a *attempt) Session() *quiz.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *attempt) setSession(s *quiz.Session) {
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()
}

func (a *attempt) Endorsement() *grading.Endorsement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.endorsement
}

func (a *attempt) setEndorsement(e *grading.Endorsement) {
	a.mu.Lock()
	a.endorsement = e
	a.mu.Unlock()
}

// Registry holds live attempts in memory. Attempts older than ttl are
// dropped on the next Put.
type Registry struct {
	mu  sync.Mutex
	m   map[string]*attempt
	ttl time.Duration
	now func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Registry{m: map[string]*attempt{}, ttl: ttl, now: time.Now}
}

func (r *Registry) put(a *attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, old := range r.m {
		if now.Sub(old.created) > r.ttl {
			delete(r.m, id)
		}
	}
	a.created = now
	r.m[a.id] = a
}

func (r *Registry) get(id string) (*attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.m[id]
	return a, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
