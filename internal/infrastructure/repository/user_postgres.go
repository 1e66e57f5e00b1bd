package repository

import (
	"context"
	"errors"

	"coursemarket/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	result := r.db.WithContext(ctx).Create(user)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrUserAlreadyExists
		}
		return result.Error
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateProfile(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrUserAlreadyExists
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, id uuid.UUID, role domain.Role) error {
	return r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("role", role).Error
}

// EnsureProfile создает профиль под роль, если его еще нет. У админа профиля нет.
func (r *UserRepository) EnsureProfile(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	db := r.db.WithContext(ctx)
	switch role {
	case domain.RoleStudent:
		return db.Where(domain.StudentProfile{UserID: userID}).
			FirstOrCreate(&domain.StudentProfile{}).Error
	case domain.RoleInstructor:
		return db.Where(domain.InstructorProfile{UserID: userID}).
			FirstOrCreate(&domain.InstructorProfile{}).Error
	}
	return nil
}

func (r *UserRepository) DeleteProfile(ctx context.Context, userID uuid.UUID, role domain.Role) error {
	db := r.db.WithContext(ctx)
	switch role {
	case domain.RoleStudent:
		return db.Where("user_id = ?", userID).Delete(&domain.StudentProfile{}).Error
	case domain.RoleInstructor:
		return db.Where("user_id = ?", userID).Delete(&domain.InstructorProfile{}).Error
	}
	return nil
}

func (r *UserRepository) HasProfile(ctx context.Context, userID uuid.UUID, role domain.Role) (bool, error) {
	var model interface{}
	switch role {
	case domain.RoleStudent:
		model = &domain.StudentProfile{}
	case domain.RoleInstructor:
		model = &domain.InstructorProfile{}
	default:
		return false, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(model).Where("user_id = ?", userID).Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) GetInstructorProfile(ctx context.Context, userID uuid.UUID) (*domain.InstructorProfile, error) {
	var p domain.InstructorProfile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if err != nil {
		return nil, notFound(err, "instructor profile")
	}
	return &p, nil
}
