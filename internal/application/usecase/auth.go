package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coursemarket/internal/domain"
	"coursemarket/internal/infrastructure/cache"
	"coursemarket/internal/infrastructure/repository"
	"coursemarket/internal/infrastructure/security"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var errInvalidCredentials = fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized)

type AuthUseCase struct {
	store        *repository.Store
	tokenCache   *cache.TokenCache
	hasher       *security.PasswordHasher
	tokenManager *security.TokenManager
	log          zerolog.Logger
}

func NewAuthUseCase(
	store *repository.Store,
	tc *cache.TokenCache,
	h *security.PasswordHasher,
	tm *security.TokenManager,
	log zerolog.Logger,
) *AuthUseCase {
	return &AuthUseCase{
		store:        store,
		tokenCache:   tc,
		hasher:       h,
		tokenManager: tm,
		log:          log,
	}
}

type RegisterInput struct {
	Username string      `json:"username" validate:"required,min=3,max=50"`
	Email    string      `json:"email" validate:"required,email,max=100"`
	Password string      `json:"password" validate:"required,min=8,max=72"`
	Role     domain.Role `json:"role" validate:"omitempty,oneof=student instructor"`
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Register создает пользователя и профиль его роли одной транзакцией.
func (uc *AuthUseCase) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.TrimSpace(in.Username)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = domain.RoleStudent
	}

	hash, err := uc.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username: in.Username,
		Email:    in.Email,
		Password: hash,
		Role:     in.Role,
	}
	err = uc.store.Transaction(ctx, func(tx *repository.Store) error {
		if err := tx.Users.Create(ctx, user); err != nil {
			return err
		}
		return tx.Users.EnsureProfile(ctx, user.ID, user.Role)
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info().Str("user_id", user.ID.String()).Str("role", string(user.Role)).Msg("user registered")
	return user, nil
}

func (uc *AuthUseCase) Login(ctx context.Context, email, password string) (*Tokens, error) {
	user, err := uc.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	ok, err := uc.hasher.Compare(user.Password, password)
	if err != nil || !ok {
		return nil, errInvalidCredentials
	}
	return uc.generateAndSaveTokens(ctx, user)
}

// Refresh ротирует пару токенов; старый refresh после этого недействителен.
func (uc *AuthUseCase) Refresh(ctx context.Context, oldRefreshToken string) (*Tokens, error) {
	claims, err := uc.tokenManager.ValidateRefreshToken(oldRefreshToken)
	if err != nil {
		return nil, err
	}

	cachedID, err := uc.tokenCache.ConsumeRefresh(ctx, oldRefreshToken)
	if err != nil {
		return nil, err
	}
	if cachedID != claims.Subject {
		return nil, fmt.Errorf("%w: token revoked", domain.ErrUnauthorized)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", domain.ErrUnauthorized)
	}
	// роль берем из БД: она могла смениться
	user, err := uc.store.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return uc.generateAndSaveTokens(ctx, user)
}

func (uc *AuthUseCase) Logout(ctx context.Context, refreshToken string) error {
	return uc.tokenCache.DeleteRefresh(ctx, refreshToken)
}

func (uc *AuthUseCase) ValidateAccess(token string) (*security.Claims, error) {
	return uc.tokenManager.ValidateAccessToken(token)
}

func (uc *AuthUseCase) generateAndSaveTokens(ctx context.Context, user *domain.User) (*Tokens, error) {
	access, refresh, err := uc.tokenManager.Generate(user.ID.String(), user.Role)
	if err != nil {
		return nil, err
	}
	if err := uc.tokenCache.SaveRefresh(ctx, user.ID.String(), refresh); err != nil {
		return nil, err
	}
	return &Tokens{AccessToken: access, RefreshToken: refresh}, nil
}
