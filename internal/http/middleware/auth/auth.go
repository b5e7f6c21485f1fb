// Package auth verifies driver bearer tokens and carries the caller identity
// through the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/domain"
	"courier-dispatch/internal/logx"
)

// ErrNoSecret is returned by a verifier without a signing secret.
var ErrNoSecret = errors.New("auth: signing secret is not configured")

type ctxKey struct{}

// WithCaller returns ctx carrying the verified caller id.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, callerID)
}

// CallerID returns the verified caller id, if any.
func CallerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Claims are the token claims; Subject is the driver id.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens.
type Verifier struct {
	secret []byte
	issuer string
	clock  clock.Clock
	logger logx.Logger
}

// NewVerifier creates a verifier. An empty secret rejects every token.
func NewVerifier(secret, issuer string, clk clock.Clock, logger logx.Logger) *Verifier {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Verifier{secret: []byte(secret), issuer: issuer, clock: clk, logger: logger}
}

// Verify parses raw and returns the caller id from its subject.
func (v *Verifier) Verify(raw string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}

	id, ok := domain.NormalizeID(claims.Subject)
	if !ok {
		return "", fmt.Errorf("auth: subject %q is not a driver id", claims.Subject)
	}
	return id, nil
}

// Issue signs a token for subject valid for ttl.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := v.clock.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func bearer(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(h[len(prefix):])
	return tok, tok != ""
}

// Optional attaches the caller when a valid token is present and lets
// anonymous requests through.
func (v *Verifier) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw, ok := bearer(r); ok {
				if id, err := v.Verify(raw); err == nil {
					r = r.WithContext(WithCaller(r.Context(), id))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Required rejects requests without a verified caller with 401.
func (v *Verifier) Required() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := CallerID(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := bearer(r)
			if !ok {
				v.unauthorized(w, r, "missing bearer token")
				return
			}
			id, err := v.Verify(raw)
			if err != nil {
				v.logger.Debug("token rejected", logx.Err(err))
				v.unauthorized(w, r, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), id)))
		})
	}
}

func (v *Verifier) unauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	v.logger.Info("unauthorized request",
		logx.String("path", r.URL.Path),
		logx.String("reason", reason),
	)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="courier-dispatch"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = io.WriteString(w, `{"error":"unauthorized"}`)
}
