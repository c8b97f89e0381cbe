package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"revision-planner/internal/model"
)

// TokenRepository stores verification and reset tokens.
type TokenRepository struct {
	db *gorm.DB
}

func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create stores token. ExpiresAt is kept in UTC so expiry comparisons
// against the stored text stay ordered.
func (r *TokenRepository) Create(ctx context.Context, token *model.Token) error {
	token.ExpiresAt = token.ExpiresAt.UTC()
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// PurgeExpired deletes tokens that expired at or before now.
func (r *TokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&model.Token{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *TokenRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.Token{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Consume deletes and returns an unexpired token of the given kind.
// Missing, expired and wrong-kind tokens all report ErrNotFound.
func (r *TokenRepository) Consume(ctx context.Context, id string, kind model.TokenKind, now time.Time) (*model.Token, error) {
	var token model.Token
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND kind = ? AND expires_at > ?", id, kind, now.UTC()).First(&token).Error; err != nil {
			return notFound(err, "token")
		}
		res := tx.Where("id = ?", id).Delete(&model.Token{})
		if res.Error != nil {
			return fmt.Errorf("consume token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("token %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &token, nil
}
