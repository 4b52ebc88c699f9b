package service

import (
	"context"
	"errors"
	"strings"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/repository"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/jwt"
	"duo-chat/backend/pkg/logger"
)

// AuthService registers users and issues tokens for them
type AuthService struct {
	users     repository.UserRepository
	directory *UserService
	tokens    *jwt.Service
	log       *logger.Logger
}

func NewAuthService(users repository.UserRepository, directory *UserService, tokens *jwt.Service, log *logger.Logger) *AuthService {
	return &AuthService{
		users:     users,
		directory: directory,
		tokens:    tokens,
		log:       log,
	}
}

// Register creates a user. The avatar, if any, must be an image.
func (s *AuthService) Register(ctx context.Context, req *models.RegisterRequest, avatar *Upload) (*models.UserResponse, error) {
	user := &models.User{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: req.Password,
	}
	if user.Name == "" {
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "All fields are required")
	}

	if avatar != nil {
		ref, err := s.directory.storeAvatar(ctx, avatar)
		if err != nil {
			return nil, err
		}
		user.ProfilePic = &ref
	}

	if err := s.users.Create(ctx, user); err != nil {
		if user.ProfilePic != nil {
			if derr := s.directory.blobs.Delete(ctx, *user.ProfilePic); derr != nil {
				s.log.Warn("failed to remove orphaned avatar", "ref", *user.ProfilePic, "error", derr.Error())
			}
		}
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, apperrors.NewConflictError(apperrors.CodeConflict, "Email already registered")
		}
		return nil, directoryError(err)
	}

	s.log.Info("user registered", "user_id", user.ID)
	resp := s.directory.Present(ctx, user, true)
	return &resp, nil
}

// Login checks the credentials and returns the user with a fresh token
func (s *AuthService) Login(ctx context.Context, req *models.LoginRequest) (*models.UserResponse, string, error) {
	invalid := apperrors.NewUnauthorizedError(apperrors.CodeUnauthorized, "Invalid email or password")

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "", invalid
		}
		return nil, "", directoryError(err)
	}
	if !models.CheckPasswordHash(req.Password, user.Password) {
		return nil, "", invalid
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Email)
	if err != nil {
		return nil, "", apperrors.NewInternalServerError(apperrors.CodeInternal, "Login failed").WithCause(err)
	}

	resp := s.directory.Present(ctx, user, true)
	return &resp, token, nil
}

// Me returns the profile of the authenticated user
func (s *AuthService) Me(ctx context.Context, userID uint) (*models.UserResponse, error) {
	user, err := s.directory.Get(ctx, userID)
	if err != nil {
		if apperrors.GetErrorCode(err) == apperrors.CodeNotFound {
			return nil, apperrors.NewUnauthorizedError(apperrors.CodeUnauthorized, "User not found")
		}
		return nil, err
	}
	resp := s.directory.Present(ctx, user, true)
	return &resp, nil
}

// TokenTTLSeconds is the lifetime of issued tokens, for cookie max-age
func (s *AuthService) TokenTTLSeconds() int {
	return int(s.tokens.Expiry().Seconds())
}
