// Package credential holds the access/refresh token pair used by apiclient.
//
// A missing refresh token is a valid state: the pipeline then reports
// EXPIRED_TOKEN instead of attempting a refresh.
package credential

import (
	"context"
	"sync"
)

// Pair is the token pair issued by the refresh endpoint.
type Pair struct {
	AccessToken  string `json:"accessToken" yaml:"access_token"`
	RefreshToken string `json:"refreshToken" yaml:"refresh_token"`
}

func (p Pair) IsZero() bool { return p.AccessToken == "" && p.RefreshToken == "" }

// Store is safe for concurrent use.
type Store interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
	Save(ctx context.Context, p Pair) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the pair in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	pair Pair
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(p Pair) *MemoryStore {
	return &MemoryStore{pair: p}
}

func (s *MemoryStore) AccessToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken, nil
}

func (s *MemoryStore) RefreshToken(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken, nil
}

func (s *MemoryStore) Save(_ context.Context, p Pair) error {
	s.mu.Lock()
	s.pair = p
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	return s.Save(context.Background(), Pair{})
}

// Pair returns a snapshot of the stored tokens.
func (s *MemoryStore) Pair() Pair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair
}
