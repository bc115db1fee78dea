package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"leafscan/api/internal/logging"
)

var ErrNoToken = errors.New("no bearer token")

// Verifier checks HS256 bearer tokens issued by the identity provider and
// extracts the user id from the sub claim.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns nil when secret is empty. A nil Verifier treats every
// request as anonymous.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses token and returns its subject.
func (v *Verifier) Verify(token string) (string, error) {
	if v == nil {
		return "", errors.New("auth not configured")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Sign issues a token for userID. Used by tests and local tooling; production
// tokens come from the identity provider.
func (v *Verifier) Sign(userID string, ttl time.Duration) (string, error) {
	if v == nil {
		return "", errors.New("auth not configured")
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrNoToken
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", ErrNoToken
	}
	return strings.TrimSpace(tok), nil
}

type ctxKey struct{}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFromContext returns "" for anonymous requests.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Middleware attaches the user id of a valid bearer token. Requests without a
// token, or with an invalid one, continue anonymously.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearerToken(r)
		if err != nil || v == nil {
			next.ServeHTTP(w, r)
			return
		}
		uid, err := v.Verify(tok)
		if err != nil {
			logging.Ctx(r.Context()).Debug().Err(err).Msg("ignoring invalid bearer token")
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), uid)))
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", `Bearer realm="leafscan"`)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"success":false,"error":"Sign in to view your history."}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
