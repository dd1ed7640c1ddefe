package auth

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/groundschool/internal/rbac"
)

const issuer = "groundschool-shell"

type AuthService struct {
	hmac []byte
	ttl  time.Duration
	now  func() time.Time

	// Instructor backend bearers never leave the process; tokens carry only
	// the jti that keys them.
	mu      sync.Mutex
	bearers map[string]heldBearer
}

type heldBearer struct {
	token   string
	expires time.Time
}

func NewAuthService(secret string, ttl time.Duration) *AuthService {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &AuthService{hmac: []byte(secret), ttl: ttl, now: time.Now, bearers: map[string]heldBearer{}}
}

type Claims struct {
	Role string `json:"role"` // "student" or "instructor"
	// SessionID binds a student token to one quiz attempt.
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// IssueSession returns a student token for one attempt.
func (a *AuthService) IssueSession(sessionID string) (string, error) {
	return a.issue(&Claims{Role: rbac.RoleStudent, SessionID: sessionID}, sessionID)
}

// IssueInstructor returns an instructor token. The backend bearer is held
// server-side under the token's jti until the token expires.
func (a *AuthService) IssueInstructor(username, backendToken string) (string, error) {
	c := &Claims{Role: rbac.RoleInstructor}
	tok, err := a.issue(c, username)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	for id, b := range a.bearers {
		if !now.Before(b.expires) {
			delete(a.bearers, id)
		}
	}
	a.bearers[c.ID] = heldBearer{token: backendToken, expires: c.ExpiresAt.Time}
	return tok, nil
}

// BackendToken returns the backend bearer held for an instructor token.
func (a *AuthService) BackendToken(c *Claims) (string, bool) {
	if c == nil || c.ID == "" {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.bearers[c.ID]
	if !ok || !a.now().Before(b.expires) {
		delete(a.bearers, c.ID)
		return "", false
	}
	return b.token, true
}

func (a *AuthService) issue(c *Claims, sub string) (string, error) {
	now := a.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   sub,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

// JWTMiddleware requires a valid bearer and puts its claims and role in the
// request context.
func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			c, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			ctx := WithClaims(r.Context(), c)
			ctx = rbac.WithRole(ctx, c.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects student tokens issued for a different attempt.
// param names the URL value holding the attempt id.
func RequireSession(param func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := ClaimsFromContext(r.Context())
			if c == nil || c.SessionID == "" || c.SessionID != param(r) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
