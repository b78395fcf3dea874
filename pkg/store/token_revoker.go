package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisRevokerTimeout = 3 * time.Second

// TokenRevoker tracks revoked token ids until expiry.
type TokenRevoker interface {
	Revoke(tokenID string, ttl time.Duration) error
	IsRevoked(tokenID string) (bool, error)
}

// UserTokenRevoker additionally invalidates every token of a subject issued
// at or before a cutoff.
type UserTokenRevoker interface {
	TokenRevoker
	RevokeUser(subject string, cutoff time.Time) error
	RevokedAfter(subject string) (time.Time, error)
}

// MemoryTokenRevoker keeps revoked tokens in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	cutoffs map[string]time.Time
}

// NewMemoryTokenRevoker builds an in-memory revoker.
func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{
		tokens:  make(map[string]time.Time),
		cutoffs: make(map[string]time.Time),
	}
}

// Revoke marks a token as revoked until its expiry.
func (r *MemoryTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tokenID] = time.Now().Add(ttl)
	return nil
}

// IsRevoked checks if the token is revoked.
func (r *MemoryTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.tokens[tokenID]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.tokens, tokenID)
		return false, nil
	}
	return true, nil
}

// RevokeUser records cutoff for subject. Cutoffs only move forward.
func (r *MemoryTokenRevoker) RevokeUser(subject string, cutoff time.Time) error {
	if subject == "" {
		return errors.New("subject required")
	}
	cutoff = cutoff.UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.cutoffs[subject]; ok && !cutoff.After(cur) {
		return nil
	}
	r.cutoffs[subject] = cutoff
	return nil
}

// RevokedAfter returns the current cutoff for subject, zero if none.
func (r *MemoryTokenRevoker) RevokedAfter(subject string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[subject], nil
}

// Keeps the larger of the stored and the new cutoff.
var raiseCutoffScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if (not current) or tonumber(current) < tonumber(ARGV[1]) then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
end
return 1
`)

// RedisTokenRevoker stores revoked tokens in Redis with TTL.
type RedisTokenRevoker struct {
	client          redis.UniversalClient
	cutoffRetention time.Duration
}

// NewRedisTokenRevoker builds a Redis-backed revoker. cutoffRetention should
// be at least the session TTL so user cutoffs outlive every token they cover.
func NewRedisTokenRevoker(client redis.UniversalClient, cutoffRetention time.Duration) *RedisTokenRevoker {
	if cutoffRetention <= 0 {
		cutoffRetention = 24 * time.Hour
	}
	return &RedisTokenRevoker{client: client, cutoffRetention: cutoffRetention}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisRevokerTimeout)
	defer cancel()
	return r.client.Set(ctx, revocationKey(tokenID), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisRevokerTimeout)
	defer cancel()
	res, err := r.client.Exists(ctx, revocationKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

// RevokeUser records cutoff for subject. Cutoffs only move forward.
func (r *RedisTokenRevoker) RevokeUser(subject string, cutoff time.Time) error {
	if subject == "" {
		return errors.New("subject required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisRevokerTimeout)
	defer cancel()
	return raiseCutoffScript.Run(ctx, r.client,
		[]string{cutoffKey(subject)},
		strconv.FormatInt(cutoff.UTC().UnixNano(), 10),
		strconv.FormatInt(r.cutoffRetention.Milliseconds(), 10),
	).Err()
}

// RevokedAfter returns the current cutoff for subject, zero if none.
func (r *RedisTokenRevoker) RevokedAfter(subject string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisRevokerTimeout)
	defer cancel()
	raw, err := r.client.Get(ctx, cutoffKey(subject)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, nanos).UTC(), nil
}

func revocationKey(tokenID string) string {
	return "revoked:" + tokenID
}

func cutoffKey(subject string) string {
	return "revoked_user:" + subject
}
