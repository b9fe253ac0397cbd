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

// identityRepository implements repository.IdentityRepository.
type identityRepository struct {
	db *gorm.DB
}

// NewIdentityRepository returns a repository bound to db.
func NewIdentityRepository(db *gorm.DB) repository.IdentityRepository {
	return &identityRepository{db: db}
}

func (repo *identityRepository) FindByProviderSubject(ctx context.Context, provider entity.ProviderType, subject string) (*entity.IdentityLink, error) {
	var linkM model.IdentityLinkModel
	err := repo.db.WithContext(ctx).
		Where("provider = ? AND provider_subject = ?", provider.String(), subject).
		First(&linkM).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrIdentityNotFound
		}

		return nil, errors.Wrap(err, "failed to find identity link")
	}

	return toIdentityDomain(&linkM), nil
}

func (repo *identityRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.IdentityLink, error) {
	var linkModels []*model.IdentityLinkModel
	err := repo.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&linkModels).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list identity links")
	}

	links := make([]*entity.IdentityLink, 0, len(linkModels))
	for _, linkM := range linkModels {
		links = append(links, toIdentityDomain(linkM))
	}

	return links, nil
}

func (repo *identityRepository) Create(ctx context.Context, link *entity.IdentityLink) error {
	linkM := fromIdentityDomain(link)

	if err := repo.db.WithContext(ctx).Create(linkM).Error; err != nil {
		if isUniqueConstraintViolation(err) {
			return repository.ErrIdentityExists
		}
		if isForeignKeyConstraintViolation(err) {
			return repository.ErrUserNotFound
		}

		return domainerrors.NewDatabaseExecuteError(err, "failed to create identity link")
	}

	link.CreatedAt = linkM.CreatedAt

	return nil
}

// Touch bumps last_used_at and, when given, replaces the sealed provider token.
func (repo *identityRepository) Touch(ctx context.Context, id uuid.UUID, usedAt time.Time, encryptedRefreshToken string) error {
	updates := map[string]any{"last_used_at": usedAt}
	if encryptedRefreshToken != "" {
		updates["encrypted_refresh_token"] = encryptedRefreshToken
	}

	result := repo.db.WithContext(ctx).
		Model(&model.IdentityLinkModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return domainerrors.NewDatabaseExecuteError(result.Error, "failed to touch identity link")
	}
	if result.RowsAffected == 0 {
		return repository.ErrIdentityNotFound
	}

	return nil
}

func toIdentityDomain(data *model.IdentityLinkModel) *entity.IdentityLink {
	return &entity.IdentityLink{
		ID:                    data.ID,
		UserID:                data.UserID,
		Provider:              entity.ProviderType(data.Provider),
		ProviderSubject:       data.ProviderSubject,
		Email:                 data.Email,
		EncryptedRefreshToken: data.EncryptedRefreshToken,
		CreatedAt:             data.CreatedAt,
		LastUsedAt:            data.LastUsedAt,
	}
}

func fromIdentityDomain(data *entity.IdentityLink) *model.IdentityLinkModel {
	return &model.IdentityLinkModel{
		ID:                    data.ID,
		UserID:                data.UserID,
		Provider:              data.Provider.String(),
		ProviderSubject:       data.ProviderSubject,
		Email:                 data.Email,
		EncryptedRefreshToken: data.EncryptedRefreshToken,
		CreatedAt:             data.CreatedAt,
		LastUsedAt:            data.LastUsedAt,
	}
}
