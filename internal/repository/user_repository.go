package repository

import (
	"context"
	"errors"
	"fmt"
	"persona-chat-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository 接口定义了用户与用量账本的持久化操作。
type UserRepository interface {
	// FindOrCreate 返回已有用户；不存在时以 template 创建。
	FindOrCreate(ctx context.Context, template *model.User) (*model.User, error)
	// FindByUserID 查找用户，不存在时返回 ErrNotFound。
	FindByUserID(ctx context.Context, userID string) (*model.User, error)
	// MutateUsage 在事务中对用户行加锁后执行 mutate，mutate 返回 true 时写回。
	// 用户不存在时先以 template 创建。
	MutateUsage(ctx context.Context, template *model.User, mutate func(u *model.User) bool) (*model.User, error)
	// Delete 删除用户及其名下的全部记录。
	Delete(ctx context.Context, userID string) error
}

// userRepository 是 UserRepository 接口的 GORM 实现。
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) FindOrCreate(ctx context.Context, template *model.User) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("user_id = ?", template.UserID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find user %s: %w", template.UserID, err)
	}

	created := *template
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
		return nil, fmt.Errorf("failed to create user %s: %w", template.UserID, err)
	}
	// 并发创建时以数据库中实际存在的行为准
	if err := r.db.WithContext(ctx).Where("user_id = ?", template.UserID).First(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to reload user %s: %w", template.UserID, err)
	}
	return &user, nil
}

func (r *userRepository) FindByUserID(ctx context.Context, userID string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user %s: %w", userID, err)
	}
	return &user, nil
}

func (r *userRepository) MutateUsage(ctx context.Context, template *model.User, mutate func(u *model.User) bool) (*model.User, error) {
	var result model.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		err := lockUser(tx, template.UserID, &user)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			seed := *template
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
				return fmt.Errorf("failed to create user %s: %w", template.UserID, err)
			}
			err = lockUser(tx, template.UserID, &user)
		}
		if err != nil {
			return fmt.Errorf("failed to lock user %s: %w", template.UserID, err)
		}

		if mutate(&user) {
			err := tx.Model(&model.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
				"tier":             user.Tier,
				"tokens_used":      user.TokensUsed,
				"tokens_available": user.TokensAvailable,
				"reset_date":       user.ResetDate,
			}).Error
			if err != nil {
				return fmt.Errorf("failed to update usage for user %s: %w", template.UserID, err)
			}
		}
		result = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// lockUser 读取用户行并加行锁（SELECT ... FOR UPDATE）。
func lockUser(tx *gorm.DB, userID string, dst *model.User) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(dst).Error
}

func (r *userRepository) Delete(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []interface{}{&model.ConversationContext{}, &model.AnalysisRecord{}, &model.RollingSummary{}, &model.User{}} {
			if err := tx.Where("user_id = ?", userID).Delete(m).Error; err != nil {
				return fmt.Errorf("failed to delete records of user %s: %w", userID, err)
			}
		}
		return nil
	})
}
