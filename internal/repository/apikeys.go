package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nickcecere/ragchat/internal/model"
)

type APIKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// Upsert stores the encrypted key, replacing any previous key for the provider.
func (r *APIKeyRepository) Upsert(ctx context.Context, key *model.APIKey) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"encrypted_key", "updated_at"}),
	}).Create(key).Error
	if err != nil {
		return fmt.Errorf("upsert api key failed: %w", err)
	}
	return nil
}

func (r *APIKeyRepository) Get(ctx context.Context, userID int64, provider string) (*model.APIKey, error) {
	var key model.APIKey
	if err := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).First(&key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get api key failed: %w", err)
	}
	return &key, nil
}

func (r *APIKeyRepository) ListByUserID(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("provider ASC").Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("list api keys failed: %w", err)
	}
	return keys, nil
}

// Delete reports whether a key was removed.
func (r *APIKeyRepository) Delete(ctx context.Context, userID int64, provider string) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND provider = ?", userID, provider).Delete(&model.APIKey{})
	if res.Error != nil {
		return false, fmt.Errorf("delete api key failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}
