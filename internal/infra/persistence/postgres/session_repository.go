package postgres

import (
	"context"
	"time"

	"keystone/internal/domain/entity"
	domainerrors "keystone/internal/domain/errors"
	"keystone/internal/domain/repository"
	"keystone/internal/infra/persistence/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// sessionRepository implements repository.SessionRepository.
//
// Rotation and revocation are single conditional UPDATE statements, so
// concurrent callers race inside PostgreSQL rather than in Go.
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository returns a repository bound to db.
func NewSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &sessionRepository{db: db}
}

func (repo *sessionRepository) Create(ctx context.Context, session *entity.Session) error {
	sessionM := fromSessionDomain(session)

	if err := repo.db.WithContext(ctx).Create(sessionM).Error; err != nil {
		if isForeignKeyConstraintViolation(err) {
			return repository.ErrUserNotFound
		}
		if isCheckConstraintViolation(err) {
			return domainerrors.ErrValidationFailed.WrapMessage("invalid session")
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to create session")
	}

	session.CreatedAt = sessionM.CreatedAt
	session.UpdatedAt = sessionM.UpdatedAt

	return nil
}

func (repo *sessionRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Session, error) {
	var sessionM model.SessionModel
	err := repo.db.WithContext(ctx).Where("id = ?", id).First(&sessionM).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}

		return nil, errors.Wrap(err, "failed to find session")
	}

	return toSessionDomain(&sessionM), nil
}

func (repo *sessionRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]*entity.Session, error) {
	var sessionModels []*model.SessionModel
	err := repo.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", userID, now).
		Order("last_active_at DESC").
		Find(&sessionModels).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active sessions")
	}

	sessions := make([]*entity.Session, 0, len(sessionModels))
	for _, sessionM := range sessionModels {
		sessions = append(sessions, toSessionDomain(sessionM))
	}

	return sessions, nil
}

// RotateRefreshHash is a compare-and-swap on refresh_token_hash.
func (repo *sessionRepository) RotateRefreshHash(ctx context.Context, params repository.RotateParams) error {
	result := repo.db.WithContext(ctx).
		Model(&model.SessionModel{}).
		Where("id = ? AND refresh_token_hash = ? AND revoked_at IS NULL", params.SessionID, params.ExpectedHash).
		Updates(map[string]any{
			"refresh_token_hash": params.NewHash,
			"expires_at":         params.ExpiresAt,
			"last_active_at":     params.LastActiveAt,
			"updated_at":         params.LastActiveAt,
		})
	if result.Error != nil {
		return domainerrors.NewDatabaseExecuteError(result.Error, "failed to rotate session")
	}
	if result.RowsAffected != 1 {
		return repository.ErrRefreshHashMismatch
	}

	return nil
}

func (repo *sessionRepository) Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) (int64, error) {
	return repo.revokeWhere(ctx, reason, at, "id = ?", id)
}

func (repo *sessionRepository) RevokeByUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	return repo.revokeWhere(ctx, reason, at, "user_id = ?", userID)
}

func (repo *sessionRepository) RevokeByUserDevice(ctx context.Context, userID uuid.UUID, deviceID string, reason string, at time.Time) (int64, error) {
	return repo.revokeWhere(ctx, reason, at, "user_id = ? AND device_id = ?", userID, deviceID)
}

func (repo *sessionRepository) RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string, at time.Time) (int64, error) {
	return repo.revokeWhere(ctx, reason, at, "family_id = ?", familyID)
}

// revokeWhere stamps every matching unrevoked session. Already revoked rows
// keep their original reason and timestamp.
func (repo *sessionRepository) revokeWhere(ctx context.Context, reason string, at time.Time, query string, args ...any) (int64, error) {
	result := repo.db.WithContext(ctx).
		Model(&model.SessionModel{}).
		Where(query, args...).
		Where("revoked_at IS NULL").
		Updates(map[string]any{
			"revoked_at":     at,
			"revoked_reason": reason,
			"updated_at":     at,
		})
	if result.Error != nil {
		return 0, domainerrors.NewDatabaseExecuteError(result.Error, "failed to revoke sessions")
	}

	return result.RowsAffected, nil
}

func toSessionDomain(data *model.SessionModel) *entity.Session {
	return &entity.Session{
		ID:               data.ID,
		UserID:           data.UserID,
		DeviceID:         data.DeviceID,
		RefreshTokenHash: data.RefreshTokenHash,
		FamilyID:         data.FamilyID,
		ExpiresAt:        data.ExpiresAt,
		RevokedAt:        data.RevokedAt,
		RevokedReason:    data.RevokedReason,
		LastActiveAt:     data.LastActiveAt,
		Device: entity.DeviceInfo{
			DeviceID:   data.DeviceID,
			DeviceName: data.DeviceName,
			Platform:   data.Platform,
			AppVersion: data.AppVersion,
			UserAgent:  data.UserAgent,
			IPAddress:  data.IPAddress,
		},
		CreatedAt: data.CreatedAt,
		UpdatedAt: data.UpdatedAt,
	}
}

func fromSessionDomain(data *entity.Session) *model.SessionModel {
	return &model.SessionModel{
		ID:               data.ID,
		UserID:           data.UserID,
		DeviceID:         data.DeviceID,
		RefreshTokenHash: data.RefreshTokenHash,
		FamilyID:         data.FamilyID,
		ExpiresAt:        data.ExpiresAt,
		RevokedAt:        data.RevokedAt,
		RevokedReason:    data.RevokedReason,
		LastActiveAt:     data.LastActiveAt,
		DeviceName:       data.Device.DeviceName,
		Platform:         data.Device.Platform,
		AppVersion:       data.Device.AppVersion,
		UserAgent:        data.Device.UserAgent,
		IPAddress:        data.Device.IPAddress,
		CreatedAt:        data.CreatedAt,
		UpdatedAt:        data.UpdatedAt,
	}
}
