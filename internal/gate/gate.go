// Package gate guards question fetches behind an optional access code.
package gate

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/mind-engage/groundschool/internal/apperrors"
	"github.com/mind-engage/groundschool/internal/backend"
)

type State string

const (
	Locked    State = "locked"
	Unlocking State = "unlocking"
	Unlocked  State = "unlocked"
)

var (
	ErrUnlocked      = errors.New("gate: already unlocked")
	ErrBusy          = errors.New("gate: unlock already in progress")
	ErrAutoUnlockRan = errors.New("gate: auto-unlock already attempted")
)

// FetchFunc performs the question fetch that carries the code. The backend
// accepts or rejects the code as part of that fetch.
type FetchFunc func(ctx context.Context, code string) (backend.Batch, error)

type Gate struct {
	required bool
	fetch    FetchFunc

	mu       sync.Mutex
	state    State
	attempts int
	autoRan  bool
	lastErr  error
}

// New returns a Locked gate. When required is false an empty code is
// accepted and the first Unlock just performs the fetch.
func New(required bool, fetch FetchFunc) *Gate {
	return &Gate{required: required, fetch: fetch, state: Locked}
}

func (g *Gate) Required() bool { return g.required }

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Attempts counts unlock attempts that reached the backend.
func (g *Gate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

// LastErr is the error of the most recent failed attempt, nil after success.
func (g *Gate) LastErr() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastErr
}

// Unlock submits code with the question fetch. Auth failures (wrong or
// locked code) and all other fetch failures return the gate to Locked so the
// user can try again.
func (g *Gate) Unlock(ctx context.Context, code string) (backend.Batch, error) {
	code = strings.TrimSpace(code)
	g.mu.Lock()
	switch g.state {
	case Unlocked:
		g.mu.Unlock()
		return backend.Batch{}, ErrUnlocked
	case Unlocking:
		g.mu.Unlock()
		return backend.Batch{}, ErrBusy
	}
	if g.required && code == "" {
		g.mu.Unlock()
		return backend.Batch{}, apperrors.Validation("unlock", "access code required")
	}
	g.state = Unlocking
	g.attempts++
	g.mu.Unlock()

	batch, err := g.fetch(ctx, code)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		g.state = Locked
		g.lastErr = err
		return backend.Batch{}, err
	}
	g.state = Unlocked
	g.lastErr = nil
	return batch, nil
}

// AutoUnlock tries a code supplied out of band. It runs at most once per
// gate; later calls return ErrAutoUnlockRan without fetching.
func (g *Gate) AutoUnlock(ctx context.Context, code string) (backend.Batch, error) {
	g.mu.Lock()
	if g.autoRan {
		g.mu.Unlock()
		return backend.Batch{}, ErrAutoUnlockRan
	}
	g.autoRan = true
	g.mu.Unlock()
	return g.Unlock(ctx, code)
}

// IsRejected reports whether err means the backend refused the code.
func IsRejected(err error) bool { return apperrors.IsKind(err, apperrors.KindAuth) }
