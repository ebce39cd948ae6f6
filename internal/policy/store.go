// Package policy holds the per-token cancel policies and their CSV
// persistence. The store is written only by the engine's control path but
// read concurrently by the admin console.
package policy

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nftops/listing-sentinel/internal/domain"
)

var (
	ErrNotFound   = errors.New("policy not found")
	ErrOwnerTaken = errors.New("token already insured by another user")
)

type Store struct {
	mu       sync.RWMutex
	policies map[string]domain.CancelPolicy // keyed by token unique id
}

func NewStore() *Store {
	return &Store{policies: make(map[string]domain.CancelPolicy)}
}

// Add registers or updates a policy. Ownership is immutable: once a token is
// insured by a user, only that user's cap/active state may change.
func (s *Store) Add(p domain.CancelPolicy) error {
	if p.InsuranceCap == nil || p.InsuranceCap.Sign() <= 0 {
		return fmt.Errorf("missing or invalid insurance cap")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := p.Token.UniqueID()
	if existing, ok := s.policies[key]; ok && existing.User != p.User {
		return fmt.Errorf("%w: %s owned by %s", ErrOwnerTaken, key, strings.ToLower(existing.User.Hex()))
	}
	s.policies[key] = p
	return nil
}

// Remove deletes the policy for token. No-op if absent.
func (s *Store) Remove(token domain.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.policies, token.UniqueID())
}

func (s *Store) IsActive(token domain.Token) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[token.UniqueID()]
	return ok && p.Active
}

func (s *Store) Get(token domain.Token) (domain.CancelPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[token.UniqueID()]
	if !ok {
		return domain.CancelPolicy{}, fmt.Errorf("%w: %s", ErrNotFound, token.UniqueID())
	}
	return p, nil
}

// Deactivate marks the policy spent after a dispatch attempt. One-way; a
// human operator re-arms by re-adding. No-op if absent or already inactive.
func (s *Store) Deactivate(token domain.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.policies[token.UniqueID()]
	if !ok || !p.Active {
		return
	}
	p.Active = false
	s.policies[token.UniqueID()] = p
}

// InsuranceCapOf sums the caps of the given tokens' policies.
func (s *Store) InsuranceCapOf(tokens []domain.Token) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := new(big.Int)
	for _, token := range tokens {
		p, ok := s.policies[token.UniqueID()]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, token.UniqueID())
		}
		total.Add(total, p.InsuranceCap)
	}
	return total, nil
}

// List returns policies sorted by (user, collection, token id), optionally
// filtered to one user. Read path for the admin console.
func (s *Store) List(userFilter *common.Address) []domain.CancelPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CancelPolicy, 0, len(s.policies))
	for _, p := range s.policies {
		if userFilter != nil && p.User != *userFilter {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ua, ub := strings.ToLower(a.User.Hex()), strings.ToLower(b.User.Hex())
		if ua != ub {
			return ua < ub
		}
		ca, cb := strings.ToLower(a.Token.Contract().Hex()), strings.ToLower(b.Token.Contract().Hex())
		if ca != cb {
			return ca < cb
		}
		return a.Token.ID().Cmp(b.Token.ID()) < 0
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies)
}
