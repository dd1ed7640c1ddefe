// Package figure picks which image URL of a question figure to show.
package figure

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/mind-engage/groundschool/internal/quiz"
)

// Prober reports whether an image URL loads.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// Resolver walks a figure's URLs in order and returns the first that loads.
// Each URL is probed at most once per Resolver; outcomes are remembered, so
// a Resolver should live no longer than one quiz attempt.
type Resolver struct {
	Prober Prober

	mu   sync.Mutex
	seen map[string]error
}

func NewResolver(p Prober) *Resolver {
	return &Resolver{Prober: p, seen: map[string]error{}}
}

// Resolve returns ("", false) when f is nil or every URL failed. A nil figure
// is never probed.
func (r *Resolver) Resolve(ctx context.Context, f *quiz.Figure) (string, bool) {
	for _, u := range f.URLs() {
		if r.probe(ctx, u) == nil {
			return u, true
		}
	}
	return "", false
}

func (r *Resolver) probe(ctx context.Context, u string) error {
	r.mu.Lock()
	if r.seen == nil {
		r.seen = map[string]error{}
	}
	if err, ok := r.seen[u]; ok {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	err := r.Prober.Probe(ctx, u)

	r.mu.Lock()
	r.seen[u] = err
	r.mu.Unlock()
	return err
}

// HTTPProber checks a URL with HEAD, falling back to a GET when the server
// does not allow HEAD. Any non-2xx status is a failure.
type HTTPProber struct {
	Client  *http.Client
	Timeout time.Duration
}

func (p HTTPProber) Probe(ctx context.Context, url string) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	status, err := p.do(ctx, http.MethodHead, url)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = p.do(ctx, http.MethodGet, url)
	}
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return fmt.Errorf("figure %s: status %d", url, status)
	}
	return nil
}

func (p HTTPProber) do(ctx context.Context, method, url string) (int, error) {
	c := p.Client
	if c == nil {
		c = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<10))
	return resp.StatusCode, nil
}
