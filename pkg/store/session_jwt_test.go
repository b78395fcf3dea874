package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTSessionStoreNewSessionAndJWKS(t *testing.T) {
	s := newTestJWTStore(t, "kid-active", NewMemoryTokenRevoker(), JWTOptions{})

	before := time.Now().UTC()
	token, expiresAt, err := s.NewSession("account-1")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	if expiresAt.Before(before.Add(time.Minute - 2*time.Second)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	accountID, ok, err := s.GetAccountIDByToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if !ok || accountID != "account-1" {
		t.Fatalf("unexpected verify result: ok=%v accountID=%q", ok, accountID)
	}

	keys := s.JWKS()
	if len(keys) != 1 {
		t.Fatalf("expected 1 jwk, got %d", len(keys))
	}
	if keys[0].Kid != "kid-active" || keys[0].Kty != "RSA" || keys[0].Alg != "RS256" {
		t.Fatalf("unexpected jwk fields: %+v", keys[0])
	}
	if keys[0].N == "" || keys[0].E == "" {
		t.Fatalf("expected RSA modulus/exponent in jwks")
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	key := generateTestKey(t)
	signing, err := NewJWTSessionStore(key, "kid", nil, time.Minute, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-a"})
	if err != nil {
		t.Fatalf("signing store: %v", err)
	}
	verify, err := NewJWTSessionStore(key, "kid", nil, time.Minute, nil, JWTOptions{Issuer: "issuer-a", Audience: "aud-b"})
	if err != nil {
		t.Fatalf("verify store: %v", err)
	}

	token, _, err := signing.NewSession("account-claim")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetAccountIDByToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	s := newTestJWTStore(t, "revoke-jti", NewMemoryTokenRevoker(), JWTOptions{})

	token, _, err := s.NewSession("account-revoke")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	_, ok, err := s.GetAccountIDByToken(token)
	if ok || !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked token should read as invalid, got %v", err)
	}
}

func TestJWTSessionStoreDeleteSessionIgnoresGarbage(t *testing.T) {
	s := newTestJWTStore(t, "garbage", NewMemoryTokenRevoker(), JWTOptions{})
	if err := s.DeleteSession("not-a-token"); err != nil {
		t.Fatalf("expected garbage token to be ignored, got %v", err)
	}
}

func TestJWTSessionStoreRevokesByAccountCutoff(t *testing.T) {
	s := newTestJWTStore(t, "revoke-account", NewMemoryTokenRevoker(), JWTOptions{})

	token, _, err := s.NewSession("account-cutoff")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeAccountSessions("account-cutoff", time.Now().UTC()); err != nil {
		t.Fatalf("revoke account: %v", err)
	}
	if _, ok, err := s.GetAccountIDByToken(token); err == nil || ok {
		t.Fatalf("expected cutoff token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreFromPEMVerifiesPreviousKeyDuringRotation(t *testing.T) {
	oldPrivatePath, oldPublicPath := writeRSAKeyPairFiles(t, "old")
	newPrivatePath, _ := writeRSAKeyPairFiles(t, "new")

	oldStore, err := NewJWTSessionStoreFromPEM(oldPrivatePath, "kid-old", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("old store: %v", err)
	}
	oldToken, _, err := oldStore.NewSession("account-2")
	if err != nil {
		t.Fatalf("old token: %v", err)
	}

	rotated, err := NewJWTSessionStoreFromPEM(
		newPrivatePath,
		"kid-new",
		map[string]string{"kid-old": oldPublicPath},
		time.Minute,
		nil,
		JWTOptions{},
	)
	if err != nil {
		t.Fatalf("rotated store: %v", err)
	}
	accountID, ok, err := rotated.GetAccountIDByToken(oldToken)
	if err != nil || !ok || accountID != "account-2" {
		t.Fatalf("unexpected verify result: ok=%v accountID=%q err=%v", ok, accountID, err)
	}
	if keys := rotated.JWKS(); len(keys) != 2 {
		t.Fatalf("expected 2 jwks entries, got %d", len(keys))
	}

	unrotated, err := NewJWTSessionStoreFromPEM(newPrivatePath, "kid-new", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("unrotated store: %v", err)
	}
	if _, _, err := unrotated.GetAccountIDByToken(oldToken); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
}

func TestJWTSessionStoreRejectsMalformedClaims(t *testing.T) {
	key := generateTestKey(t)
	s, err := NewJWTSessionStore(key, "jwt-active", nil, time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	now := time.Now().UTC()
	base := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "account-x",
			Issuer:    defaultJWTIssuer,
			Audience:  jwt.ClaimStrings{defaultJWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			ID:        "jti-x",
		}
	}
	cases := map[string]struct {
		claims func() jwt.RegisteredClaims
		kid    string
	}{
		"future iat": {claims: func() jwt.RegisteredClaims {
			c := base()
			c.IssuedAt = jwt.NewNumericDate(now.Add(2 * time.Minute))
			return c
		}, kid: "jwt-active"},
		"missing jti": {claims: func() jwt.RegisteredClaims {
			c := base()
			c.ID = ""
			return c
		}, kid: "jwt-active"},
		"missing exp": {claims: func() jwt.RegisteredClaims {
			c := base()
			c.ExpiresAt = nil
			return c
		}, kid: "jwt-active"},
		"missing kid": {claims: base, kid: ""},
	}
	for name, tc := range cases {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, tc.claims())
		if tc.kid != "" {
			token.Header["kid"] = tc.kid
		}
		signed, err := token.SignedString(key)
		if err != nil {
			t.Fatalf("%s: sign token: %v", name, err)
		}
		if _, ok, err := s.GetAccountIDByToken(signed); err == nil || ok {
			t.Fatalf("%s: expected token to be rejected", name)
		}
	}
}

func TestEphemeralJWTSessionStore(t *testing.T) {
	s, err := NewEphemeralJWTSessionStore(time.Minute, nil, JWTOptions{})
	if err != nil {
		t.Fatalf("ephemeral store: %v", err)
	}
	token, _, err := s.NewSession("account-eph")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if id, ok, err := s.GetAccountIDByToken(token); err != nil || !ok || id != "account-eph" {
		t.Fatalf("unexpected verify result: id=%q ok=%v err=%v", id, ok, err)
	}
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return key
}

func newTestJWTStore(t *testing.T, kid string, revoker TokenRevoker, opts JWTOptions) *JWTSessionStore {
	t.Helper()
	s, err := NewJWTSessionStore(generateTestKey(t), kid, nil, time.Minute, revoker, opts)
	if err != nil {
		t.Fatalf("new jwt store: %v", err)
	}
	return s
}

func writeRSAKeyPairFiles(t *testing.T, prefix string) (string, string) {
	t.Helper()
	key := generateTestKey(t)

	dir := t.TempDir()
	privatePath := filepath.Join(dir, prefix+"-private.pem")
	publicPath := filepath.Join(dir, prefix+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}
