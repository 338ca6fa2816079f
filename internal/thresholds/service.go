package thresholds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/securityguard/internal/chain"
	"github.com/mbd888/securityguard/internal/logging"
)

// Service validates writes and resolves the active Set for a caller.
type Service struct {
	store    Store
	defaults Set
	cache    Cache
	now      func() time.Time
}

// NewService creates a threshold service. defaults apply until a global
// Set is stored.
func NewService(store Store, defaults Set) *Service {
	return &Service{store: store, defaults: defaults, now: time.Now}
}

// WithCache attaches a read-through cache.
func (s *Service) WithCache(c Cache) *Service {
	s.cache = c
	return s
}

// Defaults returns the built-in Set the service started with.
func (s *Service) Defaults() Set { return s.defaults }

// SetGlobal validates and stores the global Set.
func (s *Service) SetGlobal(ctx context.Context, set Set, actor chain.Address) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if err := s.store.PutGlobal(ctx, set, actor); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.cache != nil {
		if err := s.cache.Flush(ctx); err != nil {
			logging.L(ctx).Warn("threshold cache flush failed", "error", err)
		}
	}
	logging.L(ctx).Info("global thresholds updated", "actor", actor,
		"critical", set.Critical, "high", set.High, "medium", set.Medium)
	return nil
}

// SetUser validates and stores an override for user. Global values are
// untouched.
func (s *Service) SetUser(ctx context.Context, user chain.Address, set Set, actor chain.Address) (*UserSet, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	u := &UserSet{User: user, Set: set, SetBy: actor, UpdatedAt: s.now()}
	if err := s.store.PutUser(ctx, u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, user); err != nil {
			logging.L(ctx).Warn("threshold cache invalidate failed", "user", user, "error", err)
		}
	}
	return u, nil
}

// Global returns the stored global Set, or the defaults.
func (s *Service) Global(ctx context.Context) (Set, error) {
	set, err := s.store.Global(ctx)
	if errors.Is(err, ErrNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return Set{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return set, nil
}

// Resolve returns the user override if one exists and is valid, else the
// global Set. An empty user resolves to global.
func (s *Service) Resolve(ctx context.Context, user chain.Address) (Resolution, error) {
	if s.cache != nil {
		if r, ok, err := s.cache.Get(ctx, user); err == nil && ok {
			return r, nil
		}
	}

	r, err := s.resolve(ctx, user)
	if err != nil {
		return Resolution{}, err
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, user, r); err != nil {
			logging.L(ctx).Debug("threshold cache put failed", "error", err)
		}
	}
	return r, nil
}

func (s *Service) resolve(ctx context.Context, user chain.Address) (Resolution, error) {
	if user != "" {
		u, err := s.store.User(ctx, user)
		switch {
		case err == nil && u.Set.Validate() == nil:
			return Resolution{Set: u.Set, Source: SourceUser, SetBy: u.SetBy}, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return Resolution{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	global, err := s.Global(ctx)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Set: global, Source: SourceGlobal}, nil
}
