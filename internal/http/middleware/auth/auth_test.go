package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"courier-dispatch/internal/clock"
	"courier-dispatch/internal/http/middleware/auth"
	"courier-dispatch/internal/logx"
)

const (
	secret   = "test-secret"
	driverID = "00000000-0000-4000-8000-000000000001"
)

var t0 = time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)

func echoCaller(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.CallerID(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func request(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/deliveries/x/reclaim", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestVerifier_IssueAndVerify(t *testing.T) {
	t.Parallel()

	v := auth.NewVerifier(secret, "courier-dispatch", clock.NewManual(t0), logx.Nop())
	tok, err := v.Issue(driverID, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	require.Equal(t, driverID, id)
}

func TestVerifier_Rejects(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(t0)
	v := auth.NewVerifier(secret, "courier-dispatch", clk, logx.Nop())

	expired, err := v.Issue(driverID, time.Minute)
	require.NoError(t, err)

	foreign, err := auth.NewVerifier("other-secret", "courier-dispatch", clk, logx.Nop()).Issue(driverID, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := auth.NewVerifier(secret, "someone-else", clk, logx.Nop()).Issue(driverID, time.Hour)
	require.NoError(t, err)

	badSubject, err := v.Issue("driver-42", time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: driverID, Issuer: "courier-dispatch"}).SignedString([]byte(secret))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: driverID}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	clk.Add(2 * time.Minute)

	for name, tok := range map[string]string{
		"expired":      expired,
		"foreign key":  foreign,
		"wrong issuer": wrongIssuer,
		"bad subject":  badSubject,
		"no expiry":    noExpiry,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		_, err := v.Verify(tok)
		require.Error(t, err, name)
	}
}

func TestVerifier_EmptySecretRejectsEverything(t *testing.T) {
	t.Parallel()

	v := auth.NewVerifier("", "", nil, nil)
	_, err := v.Issue(driverID, time.Hour)
	require.ErrorIs(t, err, auth.ErrNoSecret)
	_, err = v.Verify("anything")
	require.ErrorIs(t, err, auth.ErrNoSecret)
}

func TestRequired(t *testing.T) {
	t.Parallel()

	v := auth.NewVerifier(secret, "", clock.NewManual(t0), logx.Nop())
	h := v.Required()(echoCaller(t))
	good, err := v.Issue(driverID, time.Hour)
	require.NoError(t, err)

	t.Run("valid token", func(t *testing.T) {
		t.Parallel()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request(good))
		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, driverID, rr.Body.String())
	})

	t.Run("missing token", func(t *testing.T) {
		t.Parallel()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request(""))
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.JSONEq(t, `{"error":"unauthorized"}`, rr.Body.String())
		require.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
	})

	t.Run("invalid token", func(t *testing.T) {
		t.Parallel()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, request("garbage"))
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("caller set upstream", func(t *testing.T) {
		t.Parallel()
		rr := httptest.NewRecorder()
		r := request("")
		r = r.WithContext(auth.WithCaller(r.Context(), driverID))
		h.ServeHTTP(rr, r)
		require.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestOptional(t *testing.T) {
	t.Parallel()

	v := auth.NewVerifier(secret, "", clock.NewManual(t0), logx.Nop())
	h := v.Optional()(echoCaller(t))
	good, err := v.Issue(driverID, time.Hour)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, request(good))
	require.Equal(t, driverID, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, request("garbage"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Empty(t, rr.Body.String())
}
