package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"duo-chat/backend/internal/models"

	"gorm.io/gorm"
)

// UserRepository reads and writes registered users
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.User, error)
	Exists(ctx context.Context, id uint) (bool, error)
	Search(ctx context.Context, query string, excludeID uint, limit int) ([]models.User, error)
	Update(ctx context.Context, id uint, name *string, profilePic *string) (*models.User, error)
}

type GormUserRepository struct {
	db      *gorm.DB
	timeout time.Duration
}

var _ UserRepository = (*GormUserRepository)(nil)

func NewGormUserRepository(db *gorm.DB, timeout time.Duration) *GormUserRepository {
	return &GormUserRepository{db: db, timeout: timeout}
}

// Migrate creates or updates the users table
func (r *GormUserRepository) Migrate() error {
	return r.db.AutoMigrate(&models.User{})
}

func (r *GormUserRepository) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if r.timeout <= 0 {
		return r.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(ctx), cancel
}

func (r *GormUserRepository) Create(ctx context.Context, user *models.User) error {
	if _, err := r.GetByEmail(ctx, user.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}

	db, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return classify(ctx, "create user", err)
	}
	return nil
}

func (r *GormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var user models.User
	err := db.Where("email = ?", email).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, classify(ctx, "get user by email", err)
	}
	return &user, nil
}

func (r *GormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var user models.User
	err := db.Take(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, classify(ctx, "get user", err)
	}
	return &user, nil
}

// GetByIDs returns the users that exist among ids, ordered by id
func (r *GormUserRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	db, cancel := r.conn(ctx)
	defer cancel()

	if err := db.Where("id IN ?", ids).Order("id ASC").Find(&users).Error; err != nil {
		return nil, classify(ctx, "get users", err)
	}
	return users, nil
}

func (r *GormUserRepository) Exists(ctx context.Context, id uint) (bool, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	var count int64
	if err := db.Model(&models.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, classify(ctx, "check user", err)
	}
	return count > 0, nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// Search matches a case-insensitive substring of the name, skipping excludeID
func (r *GormUserRepository) Search(ctx context.Context, query string, excludeID uint, limit int) ([]models.User, error) {
	db, cancel := r.conn(ctx)
	defer cancel()

	pattern := "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
	q := db.Where("LOWER(name) LIKE ? ESCAPE '!' AND id <> ?", pattern, excludeID).Order("name ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	users := make([]models.User, 0)
	if err := q.Find(&users).Error; err != nil {
		return nil, classify(ctx, "search users", err)
	}
	return users, nil
}

// Update sets the non-nil fields and returns the fresh row
func (r *GormUserRepository) Update(ctx context.Context, id uint, name *string, profilePic *string) (*models.User, error) {
	updates := map[string]interface{}{}
	if name != nil {
		updates["name"] = *name
	}
	if profilePic != nil {
		updates["profile_pic"] = *profilePic
	}

	if len(updates) > 0 {
		db, cancel := r.conn(ctx)
		res := db.Model(&models.User{}).Where("id = ?", id).Updates(updates)
		cancel()
		if res.Error != nil {
			return nil, classify(ctx, "update user", res.Error)
		}
	}
	return r.GetByID(ctx, id)
}
