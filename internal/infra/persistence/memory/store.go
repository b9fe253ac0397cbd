// Package memory is an in-process session store. It backs the "memory"
// storage driver for local development and the usecase tests.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"keystone/internal/domain/entity"
	"keystone/internal/domain/repository"

	"github.com/google/uuid"
)

// Store holds every table in maps guarded by one mutex. A transaction holds
// the mutex for its whole duration, which makes transactions serializable.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

type state struct {
	users      map[uuid.UUID]entity.User
	identities map[uuid.UUID]entity.IdentityLink
	sessions   map[uuid.UUID]entity.Session
}

func (s *state) clone() *state {
	return &state{
		users:      maps.Clone(s.users),
		identities: maps.Clone(s.identities),
		sessions:   maps.Clone(s.sessions),
	}
}

var (
	_ repository.TransactionManager = (*Store)(nil)
	_ repository.RepositoryFactory  = (*Store)(nil)
)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state: &state{
			users:      map[uuid.UUID]entity.User{},
			identities: map[uuid.UUID]entity.IdentityLink{},
			sessions:   map[uuid.UUID]entity.Session{},
		},
		now: time.Now,
	}
}

// Execute runs fn atomically. When fn fails or panics every write it made is discarded.
func (s *Store) Execute(ctx context.Context, fn func(repoFactory repository.RepositoryFactory) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	committed := false
	defer func() {
		if !committed {
			s.state = snapshot
		}
	}()

	if err := fn(&txFactory{store: s}); err != nil {
		return err
	}
	committed = true

	return nil
}

func (s *Store) UserRepo() repository.UserRepository {
	return &userRepository{access{store: s}}
}

func (s *Store) IdentityRepo() repository.IdentityRepository {
	return &identityRepository{access{store: s}}
}

func (s *Store) SessionRepo() repository.SessionRepository {
	return &sessionRepository{access{store: s}}
}

// txFactory hands out repositories that run under the lock Execute already holds.
type txFactory struct {
	store *Store
}

func (f *txFactory) UserRepo() repository.UserRepository {
	return &userRepository{access{store: f.store, held: true}}
}

func (f *txFactory) IdentityRepo() repository.IdentityRepository {
	return &identityRepository{access{store: f.store, held: true}}
}

func (f *txFactory) SessionRepo() repository.SessionRepository {
	return &sessionRepository{access{store: f.store, held: true}}
}

// access runs a callback against the current state, taking the store lock
// unless the caller is inside Execute.
type access struct {
	store *Store
	held  bool
}

func (a access) with(ctx context.Context, fn func(st *state, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !a.held {
		a.store.mu.Lock()
		defer a.store.mu.Unlock()
	}

	return fn(a.store.state, a.store.now())
}
