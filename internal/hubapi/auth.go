package hubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MJE43/minigame-hub/internal/hubstore"
	"github.com/MJE43/minigame-hub/internal/tracking"
)

// Claims are the login token claims. Subject is the user id.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type claimsKey struct{}

// Issuer signs and verifies HS256 login tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates a token issuer. ttl defaults to 24h.
func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("hubapi: jwt secret is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for u and reports when it expires.
func (i *Issuer) Issue(u hubstore.User) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			Issuer:    "minigame-hub",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("hubapi: sign token: %w", err)
	}
	return tok, exp, nil
}

// Verify parses and validates a token.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer("minigame-hub"),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// authenticate attaches verified claims to the request. Requests without a
// token pass through unless required; a present but invalid token is always
// rejected.
func (s *Server) authenticate(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearer(r)
			if raw == "" {
				if required {
					s.errors.Write(w, r, http.StatusUnauthorized, ErrTypeUnauthorized, "missing bearer token", nil)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			claims, err := s.issuer.Verify(raw)
			if err != nil {
				s.errors.Write(w, r, http.StatusUnauthorized, ErrTypeUnauthorized, "invalid bearer token", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// ClaimsFrom returns the verified claims on an authenticated request.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// POST /api/auth/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req tracking.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		s.errors.HandleValidationError(w, r, "username", "username is required")
		return
	}
	u, err := s.store.FindOrCreateUser(r.Context(), req.Username)
	if err != nil {
		s.errors.Write(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to load user", err)
		return
	}
	tok, exp, err := s.issuer.Issue(u)
	if err != nil {
		s.errors.Write(w, r, http.StatusInternalServerError, ErrTypeInternal, "failed to issue token", err)
		return
	}
	s.logger.Printf("login user=%s id=%s", u.Username, u.ID)
	writeJSON(w, http.StatusOK, tracking.LoginResponse{
		Token:     tok,
		ExpiresAt: exp.UTC().Format(time.RFC3339),
		User:      tracking.User{ID: u.ID.String(), Username: u.Username, CreatedAt: u.CreatedAt.Format(time.RFC3339)},
	})
}

// GET /api/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFrom(r.Context())
	writeJSON(w, http.StatusOK, tracking.User{ID: claims.Subject, Username: claims.Username})
}
