package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rag-engine/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKeyServer(t *testing.T, kid string) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	doc := jwksDocument{
		Keys: []jwksKey{{
			Kty: "RSA",
			Kid: kid,
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)

	return key, server
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerify_Success(t *testing.T) {
	key, server := newTestKeyServer(t, "key-1")
	verifier := NewVerifier(VerifierConfig{JWKSURL: server.URL})

	tokenString := signToken(t, key, "key-1", Claims{
		UserID:      "user-7",
		ImmutableID: "imm-7",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := verifier.Verify(context.Background(), tokenString)

	require.NoError(t, err)
	assert.Equal(t, "user-7", identity.UserID)
	assert.Equal(t, "imm-7", identity.ImmutableID)
}

func TestVerify_Failures(t *testing.T) {
	key, server := newTestKeyServer(t, "key-1")
	verifier := NewVerifier(VerifierConfig{JWKSURL: server.URL})

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.jwt"},
		{
			"expired token",
			signToken(t, key, "key-1", Claims{
				UserID:      "user-7",
				ImmutableID: "imm-7",
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				},
			}),
		},
		{
			"missing claims",
			signToken(t, key, "key-1", Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			}),
		},
		{
			"unknown kid",
			signToken(t, key, "key-2", Claims{
				UserID:      "user-7",
				ImmutableID: "imm-7",
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(context.Background(), tt.token)
			require.Error(t, err)
			assert.True(t, models.IsAuthError(err))
		})
	}
}

func TestVerify_RejectsHMACToken(t *testing.T) {
	_, server := newTestKeyServer(t, "key-1")
	verifier := NewVerifier(VerifierConfig{JWKSURL: server.URL})

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:      "user-7",
		ImmutableID: "imm-7",
	})
	token.Header["kid"] = "key-1"
	signed, err := token.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signed)
	assert.True(t, models.IsAuthError(err))
}

type staticVerifier struct {
	identity *Identity
	err      error
}

func (s *staticVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

func TestMiddleware(t *testing.T) {
	t.Run("Valid token reaches handler with identity", func(t *testing.T) {
		verifier := &staticVerifier{identity: &Identity{UserID: "u1", ImmutableID: "i1"}}
		var seen *Identity
		handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = FromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
		req.Header.Set("Authorization", "Bearer some-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.UserID)
	})

	t.Run("Invalid token returns 401", func(t *testing.T) {
		verifier := &staticVerifier{err: models.NewAuthError("bad token", nil)}
		handler := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run")
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil)
		req.Header.Set("Authorization", "Bearer bad")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws/status?token=query-token", nil)
	assert.Equal(t, "query-token", BearerToken(req))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", BearerToken(req))
}
