package usecase

import (
	"context"
	"strings"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type UserUseCase struct {
	store *repository.Store
	log   zerolog.Logger
}

func NewUserUseCase(store *repository.Store, log zerolog.Logger) *UserUseCase {
	return &UserUseCase{store: store, log: log}
}

func (uc *UserUseCase) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	return uc.store.Users.GetByID(ctx, userID)
}

type UpdateProfileInput struct {
	Username *string `json:"username" validate:"omitempty,min=3,max=50"`
	Bio      *string `json:"bio" validate:"omitempty,max=2000"`
}

func (uc *UserUseCase) UpdateProfile(ctx context.Context, userID uuid.UUID, in UpdateProfileInput) (*domain.User, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if in.Username != nil {
		updates["username"] = strings.TrimSpace(*in.Username)
	}
	if in.Bio != nil {
		updates["bio"] = *in.Bio
	}
	if len(updates) > 0 {
		if err := uc.store.Users.UpdateProfile(ctx, userID, updates); err != nil {
			return nil, err
		}
	}
	return uc.store.Users.GetByID(ctx, userID)
}

// ChangeRole - смена роли администратором. Профиль новой роли создается,
// профиль старой удаляется в той же транзакции; та же роль - no-op.
func (uc *UserUseCase) ChangeRole(ctx context.Context, actorID, userID uuid.UUID, role domain.Role) (*domain.User, error) {
	actor, err := uc.store.Users.GetByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, permissionf("only admins can change roles")
	}
	if !role.Valid() {
		return nil, validationf("unknown role %q", role)
	}

	var user *domain.User
	err = uc.store.Transaction(ctx, func(tx *repository.Store) error {
		var err error
		user, err = tx.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if user.Role == role {
			return nil
		}
		old := user.Role

		if err := tx.Users.UpdateRole(ctx, user.ID, role); err != nil {
			return err
		}
		if err := tx.Users.EnsureProfile(ctx, user.ID, role); err != nil {
			return err
		}
		if err := tx.Users.DeleteProfile(ctx, user.ID, old); err != nil {
			return err
		}
		user.Role = role

		uc.log.Info().Str("user_id", user.ID.String()).Str("from", string(old)).Str("to", string(role)).
			Str("actor_id", actorID.String()).Msg("role changed")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
