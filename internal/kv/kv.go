// Package kv persists small structured state (StrategyMode, current_interval,
// burst markers, boot markers) in Redis under the "state:" keyspace (§6),
// surviving supervisor/engine restarts.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix      = "state:"
	socketTimeout  = 5 * time.Second
	retryAttempts  = 2
	retryBackoff   = 200 * time.Millisecond
)

// Store wraps a Redis client scoped to the "state:" keyspace. Every method
// treats connection failure as a soft error: callers decide whether absence
// of the KV store degrades to a file-only default (Open Question #2).
type Store struct {
	client *redis.Client
}

// Open parses url and verifies connectivity with a bounded ping. A non-nil
// error here means the caller should fall back to memory-only / file
// defaults rather than block startup.
func Open(url string) (*Store, error) {
	if url == "" {
		return nil, errors.New("kv: empty redis url")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("kv: parse url: %w", err)
	}
	opt.DialTimeout = socketTimeout
	opt.ReadTimeout = socketTimeout
	opt.WriteTimeout = socketTimeout

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), socketTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("kv: ping: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func key(name string) string { return keyPrefix + name }

// withRetry retries op once on a timeout, per the §6 "retry-on-timeout"
// requirement, with a short fixed backoff between attempts.
func withRetry(op func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		time.Sleep(retryBackoff)
	}
	return err
}

// SetJSON marshals v and stores it under name, with an optional TTL (zero
// means no expiry).
func (s *Store) SetJSON(ctx context.Context, name string, v any, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return errors.New("kv: store unavailable")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: marshal %s: %w", name, err)
	}
	return withRetry(func() error {
		return s.client.Set(ctx, key(name), payload, ttl).Err()
	})
}

// GetJSON loads the value stored under name into v. Returns ErrNotFound if
// the key is absent.
func (s *Store) GetJSON(ctx context.Context, name string, v any) error {
	if s == nil || s.client == nil {
		return errors.New("kv: store unavailable")
	}
	var payload string
	err := withRetry(func() error {
		var getErr error
		payload, getErr = s.client.Get(ctx, key(name)).Result()
		return getErr
	})
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("kv: get %s: %w", name, err)
	}
	return json.Unmarshal([]byte(payload), v)
}

// Delete removes name from the store. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if s == nil || s.client == nil {
		return errors.New("kv: store unavailable")
	}
	return withRetry(func() error {
		return s.client.Del(ctx, key(name)).Err()
	})
}

// ErrNotFound is returned by GetJSON when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// BurstState is the persisted shape of the scheduler's burst-mode
// sub-state-machine (§4.7), so a restart mid-burst resumes correctly.
type BurstState struct {
	Active          bool      `json:"active"`
	CurrentInterval int       `json:"current_interval_seconds"`
	BurstEndTime    time.Time `json:"burst_end_time"`
}

const burstStateKey = "system_state"

// SaveBurstState persists the scheduler's burst state.
func (s *Store) SaveBurstState(ctx context.Context, st BurstState) error {
	return s.SetJSON(ctx, burstStateKey, st, 0)
}

// LoadBurstState loads the scheduler's burst state. ok is false when no
// burst state is present (fresh install, or the KV store is unavailable) —
// callers fall back to the file-configured default interval.
func (s *Store) LoadBurstState(ctx context.Context) (st BurstState, ok bool) {
	if err := s.GetJSON(ctx, burstStateKey, &st); err != nil {
		return BurstState{}, false
	}
	return st, true
}
