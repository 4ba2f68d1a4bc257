package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	keySetTTL        = 5 * time.Minute
	keySetMinRefresh = 30 * time.Second
)

var errUnknownKey = errors.New("signing key not published by the identity provider")

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// keySet holds the identity provider's RSA signing keys by kid. It reloads
// them when stale, or when a token names an unknown kid, but never more than
// once per minRefresh.
type keySet struct {
	url        string
	client     *http.Client
	ttl        time.Duration
	minRefresh time.Duration
	now        func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newKeySet(url string) *keySet {
	return &keySet{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		ttl:        keySetTTL,
		minRefresh: keySetMinRefresh,
		now:        time.Now,
	}
}

// keyFunc resolves the verification key of an RS256 token by its kid header.
func (ks *keySet) keyFunc(t *jwt.Token) (interface{}, error) {
	if t.Method.Alg() != jwt.SigningMethodRS256.Alg() {
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid header")
	}
	return ks.key(kid)
}

func (ks *keySet) key(kid string) (*rsa.PublicKey, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := ks.now()
	age := now.Sub(ks.fetchedAt)
	k, ok := ks.keys[kid]
	if ok && age < ks.ttl {
		return k, nil
	}
	if ks.keys == nil || age >= ks.minRefresh {
		keys, err := ks.load()
		if err != nil {
			if ok {
				return k, nil
			}
			return nil, err
		}
		ks.keys, ks.fetchedAt = keys, now
		k, ok = keys[kid]
	}
	if !ok {
		return nil, fmt.Errorf("kid %q: %w", kid, errUnknownKey)
	}
	return k, nil
}

func (ks *keySet) load() (map[string]*rsa.PublicKey, error) {
	resp, err := ks.client.Get(ks.url)
	if err != nil {
		return nil, fmt.Errorf("fetch signing keys: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch signing keys: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode signing keys: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		if pub, err := k.rsa(); err == nil {
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

func (k jwk) rsa() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("kid %q: bad exponent", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
