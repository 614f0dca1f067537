package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"rag-engine/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the verified principal attached to every inbound request. The
// core never issues tokens; it only checks them against the published JWKS.
type Identity struct {
	UserID      string `json:"user_id"`
	ImmutableID string `json:"immutable_id"`
}

// Claims is the expected shape of the bearer token payload
type Claims struct {
	UserID      string `json:"user_id"`
	ImmutableID string `json:"immutable_id"`
	jwt.RegisteredClaims
}

// VerifierConfig holds configuration for token verification
type VerifierConfig struct {
	JWKSURL         string
	RefreshInterval time.Duration
	HTTPTimeout     time.Duration
}

// DefaultVerifierConfig returns a verifier configuration with sensible defaults
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		RefreshInterval: 15 * time.Minute,
		HTTPTimeout:     5 * time.Second,
	}
}

// Verifier validates bearer tokens against a JWKS endpoint. Keys are cached
// and refreshed when an unknown key id appears or the cache goes stale.
type Verifier struct {
	config     VerifierConfig
	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewVerifier creates a verifier for the given JWKS endpoint
func NewVerifier(config VerifierConfig) *Verifier {
	if config.RefreshInterval == 0 {
		config.RefreshInterval = 15 * time.Minute
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 5 * time.Second
	}
	return &Verifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.HTTPTimeout},
		keys:       make(map[string]*rsa.PublicKey),
	}
}

// Verify parses and validates the token, returning the identity it carries.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, models.NewAuthError("missing bearer token", nil)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		return v.keyForKid(ctx, kid)
	})
	if err != nil {
		return nil, models.NewAuthError("invalid bearer token", err)
	}
	if !token.Valid {
		return nil, models.NewAuthError("invalid bearer token", nil)
	}
	if claims.UserID == "" || claims.ImmutableID == "" {
		return nil, models.NewAuthError("token missing required claims", nil)
	}

	return &Identity{
		UserID:      claims.UserID,
		ImmutableID: claims.ImmutableID,
	}, nil
}

func (v *Verifier) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	key, ok := v.keys[kid]
	stale := time.Since(v.fetchedAt) > v.config.RefreshInterval
	v.mu.RUnlock()

	if ok && !stale {
		return key, nil
	}

	if err := v.refresh(ctx); err != nil {
		// A stale cached key is still better than failing every request
		// while the JWKS endpoint is down.
		if ok {
			return key, nil
		}
		return nil, err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	key, ok = v.keys[kid]
	if !ok {
		return nil, fmt.Errorf("no key for kid %q", kid)
	}
	return key, nil
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *Verifier) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned %d", resp.StatusCode)
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("JWKS document contains no usable RSA keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.fetchedAt = time.Now()
	v.mu.Unlock()
	return nil
}

func parseRSAKey(k jwksKey) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}
