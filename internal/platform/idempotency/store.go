// Package idempotency replays the response of a retried intent request carrying an Idempotency-Key,
// so a UI retry never dispatches the same collection mutation twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DefaultTTL bounds how long a recorded response can be replayed.
const DefaultTTL = 10 * time.Minute

// Outcome is the result of claiming a key.
type Outcome int

const (
	// OutcomeNew means the caller owns the key and must run the request.
	OutcomeNew Outcome = iota
	// OutcomeReplay means a finished response exists for the key.
	OutcomeReplay
	// OutcomeInFlight means another request with the key is still running.
	OutcomeInFlight
)

// ErrKeyReused is returned when a key is presented with a different request.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Response is a captured HTTP response.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Claim is the result of Store.Claim.
type Claim struct {
	Outcome  Outcome
	Response Response
}

// Store remembers claimed keys and their finished responses.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Finish(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

type entry struct {
	fingerprint string
	done        bool
	response    Response
	expiresAt   time.Time
}

// MemoryStore keeps claims in process. Expired entries are purged on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]entry)}
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge(now)

	existing, ok := s.entries[id]
	if !ok {
		s.entries[id] = entry{fingerprint: fingerprint, expiresAt: now.Add(ttl)}
		return Claim{Outcome: OutcomeNew}, nil
	}
	if existing.fingerprint != fingerprint {
		return Claim{}, ErrKeyReused
	}
	if !existing.done {
		return Claim{Outcome: OutcomeInFlight}, nil
	}
	return Claim{Outcome: OutcomeReplay, Response: cloneResponse(existing.response)}, nil
}

// Finish implements Store.
func (s *MemoryStore) Finish(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok && existing.fingerprint != fingerprint {
		return ErrKeyReused
	}
	resp.Headers = replayableHeaders(resp.Headers)
	s.entries[id] = entry{
		fingerprint: fingerprint,
		done:        true,
		response:    cloneResponse(resp),
		expiresAt:   now.Add(ttl),
	}
	return nil
}

// Release drops an unfinished claim so the request can be retried.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[id]; ok && existing.fingerprint == fingerprint && !existing.done {
		delete(s.entries, id)
	}
	return nil
}

// Len reports how many keys are remembered.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) purge(now time.Time) {
	for id, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, id)
		}
	}
}

func hashKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func replayableHeaders(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "transfer-encoding", "x-request-id":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}

func cloneResponse(resp Response) Response {
	return Response{
		Status:  resp.Status,
		Headers: resp.Headers.Clone(),
		Body:    append([]byte(nil), resp.Body...),
	}
}
