package repository

import (
	"context"
	"slices"
	"time"

	"duo-chat/backend/internal/models"

	"gorm.io/gorm"
)

// MessageRepository is the durable, ordered store of conversation messages
type MessageRepository interface {
	// Append persists msg and returns the stored row with its id and
	// server-assigned timestamp. Appends to one conversation are serialized
	// and timestamps never decrease within it.
	Append(ctx context.Context, msg *models.Message) (*models.Message, error)
	// FetchHistory returns every message of chatID ordered by (timestamp, id).
	// The result is not paginated.
	FetchHistory(ctx context.Context, chatID string) ([]models.Message, error)
	// ListCounterparts returns the ids userID has exchanged messages with, ascending
	ListCounterparts(ctx context.Context, userID uint) ([]uint, error)
}

// GormMessageRepository stores messages in a SQL database
type GormMessageRepository struct {
	db      *gorm.DB
	locks   *KeyedMutex
	timeout time.Duration
	now     func() time.Time
}

var _ MessageRepository = (*GormMessageRepository)(nil)

func NewGormMessageRepository(db *gorm.DB, timeout time.Duration) *GormMessageRepository {
	return &GormMessageRepository{
		db:      db,
		locks:   NewKeyedMutex(),
		timeout: timeout,
		now:     time.Now,
	}
}

// Migrate creates or updates the messages table
func (r *GormMessageRepository) Migrate() error {
	return r.db.AutoMigrate(&models.Message{})
}

func (r *GormMessageRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, r.timeout)
}

// withTimeout bounds one store call. A non-positive timeout leaves only the
// caller's deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// stamp returns max(now, latest) at microsecond precision
func stamp(now, latest time.Time) time.Time {
	ts := now.UTC().Truncate(time.Microsecond)
	if latest.After(ts) {
		return latest.UTC()
	}
	return ts
}

func (r *GormMessageRepository) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored := *msg
	stored.ID = 0
	stored.MediaURL = ""
	stored.ChatID = models.ConversationKey(msg.SenderID, msg.ReceiverID)

	unlock := r.locks.Lock(stored.ChatID)
	defer unlock()

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest []models.Message
		if err := tx.Select("id", "timestamp").
			Where("chat_id = ?", stored.ChatID).
			Order("timestamp DESC, id DESC").
			Limit(1).
			Find(&latest).Error; err != nil {
			return err
		}

		var prev time.Time
		if len(latest) > 0 {
			prev = latest[0].Timestamp
		}
		stored.Timestamp = stamp(r.now(), prev)

		return tx.Create(&stored).Error
	})
	if err != nil {
		return nil, classify(ctx, "append message", err)
	}

	return &stored, nil
}

func (r *GormMessageRepository) FetchHistory(ctx context.Context, chatID string) ([]models.Message, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	messages := make([]models.Message, 0)
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, classify(ctx, "fetch history", err)
	}
	for i := range messages {
		messages[i].Timestamp = messages[i].Timestamp.UTC()
	}
	return messages, nil
}

func (r *GormMessageRepository) ListCounterparts(ctx context.Context, userID uint) ([]uint, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ids []uint
	err := r.db.WithContext(ctx).Raw(
		`SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END AS counterpart
		 FROM messages
		 WHERE sender_id = ? OR receiver_id = ?`,
		userID, userID, userID,
	).Scan(&ids).Error
	if err != nil {
		return nil, classify(ctx, "list counterparts", err)
	}

	slices.Sort(ids)
	return slices.Compact(ids), nil
}
