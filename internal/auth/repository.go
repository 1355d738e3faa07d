// internal/auth/repository.go
package auth

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"school-quiz/internal/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := usernameFree(tx, user.Username, 0); err != nil {
			return err
		}
		return tx.Create(user).Error
	})
}

// usernameFree fails with ErrUsernameTaken when another user (id other than
// exceptID) already holds username in any letter case.
func usernameFree(tx *gorm.DB, username string, exceptID uint) error {
	var n int64
	err := tx.Model(&models.User{}).
		Where("LOWER(username) = LOWER(?) AND id <> ?", username, exceptID).
		Count(&n).Error
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrUsernameTaken
	}
	return nil
}

// UpdateUser applies the non-empty fields. passwordHash "" keeps the current
// password. Demoting the last admin is refused.
func (r *Repository) UpdateUser(ctx context.Context, id uint, username *string, passwordHash string, isAdmin *bool) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		updates := map[string]interface{}{}
		if username != nil && *username != user.Username {
			if err := usernameFree(tx, *username, id); err != nil {
				return err
			}
			updates["username"] = *username
		}
		if passwordHash != "" {
			updates["password_hash"] = passwordHash
		}
		if isAdmin != nil && *isAdmin != user.IsAdmin {
			if user.IsAdmin {
				var admins int64
				if err := tx.Model(&models.User{}).Where("is_admin = ?", true).Count(&admins).Error; err != nil {
					return err
				}
				if admins <= 1 {
					return ErrLastAdmin
				}
			}
			updates["is_admin"] = *isAdmin
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&user, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Order("username asc").Find(&users).Error
	return users, err
}

func (r *Repository) CountAdmins(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("is_admin = ?", true).Count(&n).Error
	return n, err
}

// DeleteUser removes the user and their submissions. Removing the last
// admin is refused inside the same transaction.
func (r *Repository) DeleteUser(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		if user.IsAdmin {
			var admins int64
			if err := tx.Model(&models.User{}).Where("is_admin = ?", true).Count(&admins).Error; err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}

		subIDs := tx.Model(&models.Submission{}).Select("id").Where("user_id = ?", id)
		if err := tx.Where("submission_id IN (?)", subIDs).Delete(&models.SubmissionAnswer{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Submission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
}
