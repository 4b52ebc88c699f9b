package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/internal/repository"
	"duo-chat/backend/pkg/blob"
	"duo-chat/backend/pkg/cache"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/logger"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"
)

// SearchLimit caps the number of users returned by a name search
const SearchLimit = 50

// Upload is a file received from a client, not yet stored
type Upload struct {
	Body io.Reader
	Size int64
}

// UserService is the identity directory: user lookups with a read-through
// cache, name search and profile updates.
type UserService struct {
	users repository.UserRepository
	blobs blob.Store
	cache cache.Store
	ttl   time.Duration
	group singleflight.Group
	log   *logger.Logger
}

// NewUserService creates the directory. A nil cache disables caching.
func NewUserService(users repository.UserRepository, blobs blob.Store, c cache.Store, ttl time.Duration, log *logger.Logger) *UserService {
	return &UserService{
		users: users,
		blobs: blobs,
		cache: c,
		ttl:   ttl,
		log:   log,
	}
}

func userCacheKey(id uint) string {
	return "user:" + strconv.FormatUint(uint64(id), 10)
}

// lookup returns the user with id, coalescing concurrent misses
func (s *UserService) lookup(ctx context.Context, id uint) (*models.User, error) {
	key := userCacheKey(id)
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err != nil {
			s.log.Warn("user cache read failed", "user_id", id, "error", err.Error())
		} else if ok {
			var u models.User
			if err := json.Unmarshal(raw, &u); err == nil {
				return &u, nil
			}
		}
	}

	// The flight outlives any single waiter, so it runs detached from the
	// caller's cancellation; the repository applies its own timeout.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		u, err := s.users.GetByID(shared, id)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if raw, err := json.Marshal(u); err == nil {
				if err := s.cache.Set(shared, key, raw, s.ttl); err != nil {
					s.log.Warn("user cache write failed", "user_id", id, "error", err.Error())
				}
			}
		}
		return u, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.User), nil
	}
}

func (s *UserService) invalidate(ctx context.Context, id uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userCacheKey(id)); err != nil {
		s.log.Warn("user cache invalidation failed", "user_id", id, "error", err.Error())
	}
}

// Exists reports whether id names a registered user. A lookup failure is
// returned as an error, never as false.
func (s *UserService) Exists(ctx context.Context, id uint) (bool, error) {
	if id == 0 {
		return false, nil
	}
	_, err := s.lookup(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Get returns the user with id
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.lookup(ctx, id)
	if err != nil {
		return nil, directoryError(err)
	}
	return u, nil
}

// GetMany returns the users among ids that exist, ordered by id
func (s *UserService) GetMany(ctx context.Context, ids []uint) ([]models.User, error) {
	users, err := s.users.GetByIDs(ctx, lo.Uniq(ids))
	if err != nil {
		return nil, directoryError(err)
	}
	return users, nil
}

// Search finds users whose name contains query, excluding the requester
func (s *UserService) Search(ctx context.Context, requesterID uint, query string) ([]models.UserResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Search query is required")
	}

	users, err := s.users.Search(ctx, query, requesterID, SearchLimit)
	if err != nil {
		return nil, directoryError(err)
	}
	return s.PresentAll(ctx, users), nil
}

// UpdateProfile changes the name and/or avatar of a user. At least one of
// them must be given.
func (s *UserService) UpdateProfile(ctx context.Context, userID uint, name string, avatar *Upload) (*models.UserResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" && avatar == nil {
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "No changes provided")
	}

	current, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, directoryError(err)
	}

	var namePtr, picPtr *string
	if name != "" {
		namePtr = &name
	}
	if avatar != nil {
		ref, err := s.storeAvatar(ctx, avatar)
		if err != nil {
			return nil, err
		}
		picPtr = &ref
	}

	updated, err := s.users.Update(ctx, userID, namePtr, picPtr)
	if err != nil {
		return nil, directoryError(err)
	}
	s.invalidate(ctx, userID)

	if picPtr != nil && current.ProfilePic != nil && *current.ProfilePic != "" {
		if err := s.blobs.Delete(ctx, *current.ProfilePic); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.log.Warn("failed to delete replaced avatar", "user_id", userID, "ref", *current.ProfilePic, "error", err.Error())
		}
	}

	resp := s.Present(ctx, updated, true)
	return &resp, nil
}

// storeAvatar sniffs an uploaded avatar and stores it if it is an image
func (s *UserService) storeAvatar(ctx context.Context, avatar *Upload) (string, error) {
	sniffed, err := blob.Sniff(avatar.Body)
	if err != nil {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Unreadable profile picture")
	}
	if !sniffed.IsImage() {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Profile picture must be an image")
	}
	ref, err := s.blobs.Put(ctx, blob.PrefixAvatars, sniffed, avatar.Size, sniffed.ContentType)
	if err != nil {
		return "", blobError(err)
	}
	return ref, nil
}

// Present converts a user for the wire and resolves its avatar URL
func (s *UserService) Present(ctx context.Context, u *models.User, withEmail bool) models.UserResponse {
	resp := u.ToResponse(withEmail)
	if resp.ProfilePic != "" && s.blobs != nil {
		url, err := s.blobs.Resolve(ctx, resp.ProfilePic)
		if err != nil {
			s.log.Warn("failed to resolve avatar", "user_id", u.ID, "error", err.Error())
		} else {
			resp.ProfilePicURL = url
		}
	}
	return resp
}

// PresentAll converts users for the wire without their email
func (s *UserService) PresentAll(ctx context.Context, users []models.User) []models.UserResponse {
	out := make([]models.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, s.Present(ctx, &users[i], false))
	}
	return out
}

func directoryError(err error) error {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return apperrors.NewNotFoundError(apperrors.CodeNotFound, "User not found")
	case errors.Is(err, context.Canceled):
		return err
	default:
		return apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "User directory unavailable").WithCause(err)
	}
}

func blobError(err error) error {
	switch {
	case errors.Is(err, blob.ErrTooLarge):
		return apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "File too large")
	case errors.Is(err, blob.ErrUnsupportedType):
		return apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Unsupported file type")
	default:
		return apperrors.NewServiceUnavailableError(apperrors.CodeUnavailable, "File storage unavailable").WithCause(fmt.Errorf("blob: %w", err))
	}
}
