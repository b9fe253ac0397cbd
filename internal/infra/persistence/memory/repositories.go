package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"keystone/internal/domain/entity"
	"keystone/internal/domain/repository"

	"github.com/google/uuid"
)

type userRepository struct{ access }

func (r *userRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error) {
	var found *entity.User
	err := r.with(ctx, func(st *state, _ time.Time) error {
		user, ok := st.users[id]
		if !ok {
			return repository.ErrUserNotFound
		}
		found = &user

		return nil
	})

	return found, err
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	var found *entity.User
	err := r.with(ctx, func(st *state, _ time.Time) error {
		for _, user := range st.users {
			if user.DeletedAt == nil && strings.EqualFold(user.Email, email) {
				found = &user

				return nil
			}
		}

		return repository.ErrUserNotFound
	})

	return found, err
}

func (r *userRepository) Create(ctx context.Context, user *entity.User) error {
	return r.with(ctx, func(st *state, now time.Time) error {
		if _, exists := st.users[user.ID]; exists {
			return repository.ErrUserEmailTaken
		}
		if liveEmailTaken(st, user.ID, user.Email) {
			return repository.ErrUserEmailTaken
		}
		if user.CreatedAt.IsZero() {
			user.CreatedAt = now
		}
		user.UpdatedAt = user.CreatedAt
		user.Email = strings.ToLower(user.Email)
		st.users[user.ID] = *user

		return nil
	})
}

func (r *userRepository) Update(ctx context.Context, user *entity.User) error {
	return r.with(ctx, func(st *state, now time.Time) error {
		stored, ok := st.users[user.ID]
		if !ok || stored.DeletedAt != nil {
			return repository.ErrUserNotFound
		}
		if liveEmailTaken(st, user.ID, user.Email) {
			return repository.ErrUserEmailTaken
		}

		updated := *user
		updated.Email = strings.ToLower(user.Email)
		updated.CreatedAt = stored.CreatedAt
		updated.DeletedAt = stored.DeletedAt
		updated.UpdatedAt = now
		st.users[user.ID] = updated
		user.UpdatedAt = now

		return nil
	})
}

func (r *userRepository) SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error {
	return r.with(ctx, func(st *state, _ time.Time) error {
		user, ok := st.users[id]
		if !ok {
			return repository.ErrUserNotFound
		}
		if user.DeletedAt != nil {
			return nil
		}
		user.DeletedAt = &deletedAt
		user.UpdatedAt = deletedAt
		st.users[id] = user

		return nil
	})
}

func liveEmailTaken(st *state, self uuid.UUID, email string) bool {
	for id, other := range st.users {
		if id != self && other.DeletedAt == nil && strings.EqualFold(other.Email, email) {
			return true
		}
	}

	return false
}

type identityRepository struct{ access }

func (r *identityRepository) FindByProviderSubject(ctx context.Context, provider entity.ProviderType, subject string) (*entity.IdentityLink, error) {
	var found *entity.IdentityLink
	err := r.with(ctx, func(st *state, _ time.Time) error {
		for _, link := range st.identities {
			if link.Provider == provider && link.ProviderSubject == subject {
				found = &link

				return nil
			}
		}

		return repository.ErrIdentityNotFound
	})

	return found, err
}

func (r *identityRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.IdentityLink, error) {
	var links []*entity.IdentityLink
	err := r.with(ctx, func(st *state, _ time.Time) error {
		for _, link := range st.identities {
			if link.UserID == userID {
				links = append(links, &link)
			}
		}
		slices.SortFunc(links, func(a, b *entity.IdentityLink) int {
			return a.CreatedAt.Compare(b.CreatedAt)
		})

		return nil
	})

	return links, err
}

func (r *identityRepository) Create(ctx context.Context, link *entity.IdentityLink) error {
	return r.with(ctx, func(st *state, now time.Time) error {
		if _, ok := st.users[link.UserID]; !ok {
			return repository.ErrUserNotFound
		}
		for _, existing := range st.identities {
			if existing.Provider == link.Provider && existing.ProviderSubject == link.ProviderSubject {
				return repository.ErrIdentityExists
			}
		}
		if link.CreatedAt.IsZero() {
			link.CreatedAt = now
		}
		if link.LastUsedAt.IsZero() {
			link.LastUsedAt = link.CreatedAt
		}
		st.identities[link.ID] = *link

		return nil
	})
}

func (r *identityRepository) Touch(ctx context.Context, id uuid.UUID, usedAt time.Time, encryptedRefreshToken string) error {
	return r.with(ctx, func(st *state, _ time.Time) error {
		link, ok := st.identities[id]
		if !ok {
			return repository.ErrIdentityNotFound
		}
		link.LastUsedAt = usedAt
		if encryptedRefreshToken != "" {
			link.EncryptedRefreshToken = encryptedRefreshToken
		}
		st.identities[id] = link

		return nil
	})
}

type sessionRepository struct{ access }

func (r *sessionRepository) Create(ctx context.Context, session *entity.Session) error {
	return r.with(ctx, func(st *state, now time.Time) error {
		if _, ok := st.users[session.UserID]; !ok {
			return repository.ErrUserNotFound
		}
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
		session.UpdatedAt = session.CreatedAt
		st.sessions[session.ID] = *session

		return nil
	})
}

func (r *sessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	var found *entity.Session
	err := r.with(ctx, func(st *state, _ time.Time) error {
		session, ok := st.sessions[id]
		if !ok {
			return repository.ErrSessionNotFound
		}
		found = &session

		return nil
	})

	return found, err
}

func (r *sessionRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]*entity.Session, error) {
	var sessions []*entity.Session
	err := r.with(ctx, func(st *state, _ time.Time) error {
		for _, session := range st.sessions {
			if session.UserID == userID && session.IsActive(now) {
				sessions = append(sessions, &session)
			}
		}
		slices.SortFunc(sessions, func(a, b *entity.Session) int {
			return cmp.Or(
				b.LastActiveAt.Compare(a.LastActiveAt),
				b.CreatedAt.Compare(a.CreatedAt),
				strings.Compare(a.ID.String(), b.ID.String()),
			)
		})

		return nil
	})

	return sessions, err
}

func (r *sessionRepository) RotateRefreshHash(ctx context.Context, params repository.RotateParams) error {
	return r.with(ctx, func(st *state, _ time.Time) error {
		session, ok := st.sessions[params.SessionID]
		if !ok || session.IsRevoked() || session.RefreshTokenHash != params.ExpectedHash {
			return repository.ErrRefreshHashMismatch
		}
		session.RefreshTokenHash = params.NewHash
		session.ExpiresAt = params.ExpiresAt
		session.LastActiveAt = params.LastActiveAt
		session.UpdatedAt = params.LastActiveAt
		st.sessions[params.SessionID] = session

		return nil
	})
}

func (r *sessionRepository) Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, reason, at, func(s *entity.Session) bool { return s.ID == id })
}

func (r *sessionRepository) RevokeByUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, reason, at, func(s *entity.Session) bool { return s.UserID == userID })
}

func (r *sessionRepository) RevokeByUserDevice(ctx context.Context, userID uuid.UUID, deviceID string, reason string, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, reason, at, func(s *entity.Session) bool {
		return s.UserID == userID && s.DeviceID == deviceID
	})
}

func (r *sessionRepository) RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string, at time.Time) (int64, error) {
	return r.revokeWhere(ctx, reason, at, func(s *entity.Session) bool { return s.FamilyID == familyID })
}

func (r *sessionRepository) revokeWhere(ctx context.Context, reason string, at time.Time, match func(*entity.Session) bool) (int64, error) {
	var revoked int64
	err := r.with(ctx, func(st *state, _ time.Time) error {
		for id, session := range st.sessions {
			if session.IsRevoked() || !match(&session) {
				continue
			}
			revokedAt := at
			session.RevokedAt = &revokedAt
			session.RevokedReason = reason
			session.UpdatedAt = at
			st.sessions[id] = session
			revoked++
		}

		return nil
	})

	return revoked, err
}
