package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer   = "inkfolio-identity"
	defaultJWTAudience = "inkfolio-api"
	defaultJWTKeyID    = "jwt-active"
	ephemeralKeyBits   = 2048
)

var defaultJWTLeeway = 30 * time.Second

var (
	// ErrInvalidToken covers every reason a bearer token is not accepted.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is wrapped in ErrInvalidToken for signed-out tokens.
	ErrTokenRevoked = errors.New("token revoked")
)

// JWTOptions configures JWT claim validation behavior.
type JWTOptions struct {
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// JWTSessionStore issues and validates RS256 access tokens with kid/JWKS.
type JWTSessionStore struct {
	ttl     time.Duration
	revoker TokenRevoker

	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey

	issuer   string
	audience string
	leeway   time.Duration
}

// NewJWTSessionStore builds a store around an in-memory signing key.
// verifiers maps kid -> previous public keys still accepted during rotation.
func NewJWTSessionStore(
	privateKey *rsa.PrivateKey,
	keyID string,
	verifiers map[string]*rsa.PublicKey,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSessionStore, error) {
	if privateKey == nil {
		return nil, errors.New("jwt signing key required")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = defaultJWTKeyID
	}
	keys := make(map[string]*rsa.PublicKey, len(verifiers)+1)
	for kid, pub := range verifiers {
		kid = strings.TrimSpace(kid)
		if kid == "" || pub == nil {
			continue
		}
		keys[kid] = pub
	}
	keys[keyID] = &privateKey.PublicKey

	opts = normalizeJWTOptions(opts)
	return &JWTSessionStore{
		ttl:       ttl,
		revoker:   revoker,
		signer:    privateKey,
		signerKid: keyID,
		verifiers: keys,
		issuer:    opts.Issuer,
		audience:  opts.Audience,
		leeway:    opts.Leeway,
	}, nil
}

// NewEphemeralJWTSessionStore generates a fresh signing key. Tokens do not
// survive a restart; meant for local development and tests.
func NewEphemeralJWTSessionStore(ttl time.Duration, revoker TokenRevoker, opts JWTOptions) (*JWTSessionStore, error) {
	key, err := rsa.GenerateKey(rand.Reader, ephemeralKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate jwt key: %w", err)
	}
	return NewJWTSessionStore(key, defaultJWTKeyID, nil, ttl, revoker, opts)
}

// NewJWTSessionStoreFromPEM loads the signing key and rotation keys from PEM
// files. verifyKeyFiles maps kid -> public key path.
func NewJWTSessionStoreFromPEM(
	privateKeyPath string,
	keyID string,
	verifyKeyFiles map[string]string,
	ttl time.Duration,
	revoker TokenRevoker,
	opts JWTOptions,
) (*JWTSessionStore, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	verifiers := make(map[string]*rsa.PublicKey, len(verifyKeyFiles))
	for kid, path := range verifyKeyFiles {
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		verifiers[kid] = pub
	}
	return NewJWTSessionStore(privateKey, keyID, verifiers, ttl, revoker, opts)
}

// NewSession signs a token for the account and returns it with its expiry.
func (s *JWTSessionStore) NewSession(accountID string) (string, time.Time, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", time.Time{}, errors.New("account id required")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        randomHexID(12),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.signerKid
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", time.Time{}, err
	}
	// NumericDate truncates to seconds.
	return signed, claims.ExpiresAt.Time, nil
}

// GetAccountIDByToken validates a token and returns its subject.
func (s *JWTSessionStore) GetAccountIDByToken(token string) (string, bool, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return "", false, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return "", false, err
		}
		if revoked {
			return "", false, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenRevoked)
		}
		if userRevoker, ok := s.revoker.(UserTokenRevoker); ok {
			cutoff, err := userRevoker.RevokedAfter(claims.Subject)
			if err != nil {
				return "", false, err
			}
			if !cutoff.IsZero() && !claims.IssuedAt.Time.UTC().After(cutoff) {
				return "", false, fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenRevoked)
			}
		}
	}
	return claims.Subject, true, nil
}

// DeleteSession revokes the token until it expires. Tokens that no longer
// verify are already unusable and are ignored.
func (s *JWTSessionStore) DeleteSession(token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeAccountSessions invalidates every token of the account issued at or before since.
func (s *JWTSessionStore) RevokeAccountSessions(accountID string, since time.Time) error {
	if s.revoker == nil {
		return nil
	}
	userRevoker, ok := s.revoker.(UserTokenRevoker)
	if !ok {
		return errors.New("session revoker does not support account revocation")
	}
	return userRevoker.RevokeUser(accountID, since)
}

// JWKS returns the public keys accepted by this store.
func (s *JWTSessionStore) JWKS() []JWK {
	kids := make([]string, 0, len(s.verifiers))
	for kid := range s.verifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := s.verifiers[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		kid = strings.TrimSpace(kid)
		if kid == "" {
			return nil, errors.New("token key id required")
		}
		pub, ok := s.verifiers[kid]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	}, parserOptions...)
	if err != nil {
		return claims, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return claims, ErrInvalidToken
	}
	switch {
	case strings.TrimSpace(claims.ID) == "":
		return claims, fmt.Errorf("%w: jti missing", ErrInvalidToken)
	case strings.TrimSpace(claims.Subject) == "":
		return claims, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	case claims.IssuedAt == nil:
		return claims, fmt.Errorf("%w: issued_at missing", ErrInvalidToken)
	}
	return claims, nil
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pubAny, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func normalizeJWTOptions(opts JWTOptions) JWTOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultJWTIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultJWTAudience
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultJWTLeeway
	}
	return opts
}
