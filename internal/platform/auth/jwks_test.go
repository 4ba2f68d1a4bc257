package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type idp struct {
	server *httptest.Server
	key    *rsa.PrivateKey
	hits   atomic.Int32
}

func newIDP(t *testing.T, kid string) *idp {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p := &idp{key: key}
	p.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	t.Cleanup(p.server.Close)
	return p
}

func (p *idp) sign(t *testing.T, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(p.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	p := newIDP(t, "k1")
	mw := JWTMiddleware(JWTConfig{JWKSURL: p.server.URL})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+p.sign(t, "k1", validClaims(testStaffID, RoleAdmin)))
	if err := mw(okHandler)(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// HS256 tokens are not accepted once keys come from the provider.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+createTestToken(t, validClaims(testStaffID), testSigningKey))
	expectStatus(t, mw(okHandler)(e.NewContext(req, httptest.NewRecorder())), http.StatusUnauthorized)
}

func TestKeySet_UnknownKidRefreshesAtMostOncePerInterval(t *testing.T) {
	p := newIDP(t, "k1")
	ks := newKeySet(p.server.URL)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ks.now = func() time.Time { return now }

	if _, err := ks.key("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := ks.key("rotated"); !errors.Is(err, errUnknownKey) {
			t.Fatalf("expected errUnknownKey, got %v", err)
		}
	}
	if got := p.hits.Load(); got != 1 {
		t.Errorf("expected a single fetch inside the refresh interval, got %d", got)
	}

	now = now.Add(keySetMinRefresh)
	ks.key("rotated")
	if got := p.hits.Load(); got != 2 {
		t.Errorf("expected a refetch after the interval, got %d fetches", got)
	}
}

func TestKeySet_KeepsCachedKeyWhenProviderDown(t *testing.T) {
	p := newIDP(t, "k1")
	ks := newKeySet(p.server.URL)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ks.now = func() time.Time { return now }

	if _, err := ks.key("k1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.server.Close()
	now = now.Add(keySetTTL + time.Second)
	if _, err := ks.key("k1"); err != nil {
		t.Errorf("expected the stale key to be served, got %v", err)
	}
}
