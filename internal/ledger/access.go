package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mr1hm/go-relief-ledger/internal/repository"
)

// AccessPolicy decides which principals may verify events, approve funds
// and distribute. The owner is always authorized and is the only principal
// allowed to change the set.
type AccessPolicy struct {
	owner string
	store repository.PrincipalRepository

	mu         sync.RWMutex
	authorized map[string]struct{}
}

func NewAccessPolicy(ctx context.Context, owner string, store repository.PrincipalRepository) (*AccessPolicy, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner principal is required", ErrValidation)
	}

	principals, err := store.ListAuthorized(ctx)
	if err != nil {
		return nil, fmt.Errorf("error loading authorized principals: %w", err)
	}

	p := &AccessPolicy{
		owner:      owner,
		store:      store,
		authorized: make(map[string]struct{}, len(principals)),
	}
	for _, principal := range principals {
		p.authorized[principal] = struct{}{}
	}
	return p, nil
}

func (p *AccessPolicy) Owner() string {
	return p.owner
}

func (p *AccessPolicy) IsOwner(principal string) bool {
	return principal != "" && principal == p.owner
}

func (p *AccessPolicy) IsAuthorized(principal string) bool {
	if p.IsOwner(principal) {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.authorized[principal]
	return ok
}

// Grant authorizes principal. It reports whether the set changed.
func (p *AccessPolicy) Grant(ctx context.Context, principal, actor string, at time.Time) (bool, error) {
	return p.set(ctx, principal, actor, true, at)
}

// Revoke removes principal from the set. It reports whether the set changed.
func (p *AccessPolicy) Revoke(ctx context.Context, principal, actor string, at time.Time) (bool, error) {
	return p.set(ctx, principal, actor, false, at)
}

func (p *AccessPolicy) set(ctx context.Context, principal, actor string, authorized bool, at time.Time) (bool, error) {
	if !p.IsOwner(actor) {
		return false, fmt.Errorf("%w: only the owner may change authorized principals", ErrUnauthorized)
	}
	if principal == "" {
		return false, fmt.Errorf("%w: principal is required", ErrValidation)
	}
	if principal == p.owner {
		return false, fmt.Errorf("%w: the owner is always authorized", ErrValidation)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, present := p.authorized[principal]
	if present == authorized {
		return false, nil
	}
	if err := p.store.SetAuthorized(ctx, principal, authorized, at); err != nil {
		return false, err
	}
	if authorized {
		p.authorized[principal] = struct{}{}
	} else {
		delete(p.authorized, principal)
	}
	return true, nil
}

// Principals returns the granted principals, excluding the owner.
func (p *AccessPolicy) Principals() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.authorized))
	for principal := range p.authorized {
		out = append(out, principal)
	}
	slices.Sort(out)
	return out
}
