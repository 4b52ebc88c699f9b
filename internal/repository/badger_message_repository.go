package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"duo-chat/backend/internal/models"
	"duo-chat/backend/pkg/logger"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
)

// BadgerMessageRepository stores messages in an embedded badger database.
//
// Keys:
//
//	msg:{chatID}:{unixnano %019d}:{id %019d}  -> JSON message
//	conv:{userID}:{counterpartID}             -> empty
//
// The zero padding makes lexicographic key order equal (timestamp, id) order.
type BadgerMessageRepository struct {
	db      *badger.DB
	seq     *badger.Sequence
	locks   *KeyedMutex
	timeout time.Duration
	log     *logger.Logger
	now     func() time.Time
}

var _ MessageRepository = (*BadgerMessageRepository)(nil)

const messageSequenceKey = "seq:messages"

// NewBadgerMessageRepository bounds every call by timeout, like the SQL store
func NewBadgerMessageRepository(db *badger.DB, timeout time.Duration, log *logger.Logger) (*BadgerMessageRepository, error) {
	seq, err := db.GetSequence([]byte(messageSequenceKey), 128)
	if err != nil {
		return nil, fmt.Errorf("open message sequence: %w", err)
	}
	if log == nil {
		log = logger.GetGlobal()
	}
	return &BadgerMessageRepository{
		db:      db,
		seq:     seq,
		locks:   NewKeyedMutex(),
		timeout: timeout,
		log:     log,
		now:     time.Now,
	}, nil
}

// OpenBadger opens (or creates) a badger database in dir
func OpenBadger(dir string) (*badger.DB, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	return db, nil
}

// Close returns unused sequence ids to the database
func (r *BadgerMessageRepository) Close() error {
	return r.seq.Release()
}

func messagePrefix(chatID string) string {
	return "msg:" + chatID + ":"
}

func messageKey(chatID string, ts time.Time, id uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%019d", chatID, ts.UnixNano(), id))
}

func conversationKey(userID, counterpart uint) []byte {
	return []byte(fmt.Sprintf("conv:%d:%d", userID, counterpart))
}

// latestTimestamp reads the newest key of chatID. Zero when the chat is empty.
func latestTimestamp(txn *badger.Txn, chatID string) (time.Time, error) {
	prefix := []byte(messagePrefix(chatID))

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	// '~' sorts after every digit
	it.Seek(append(append([]byte{}, prefix...), '~'))
	if !it.ValidForPrefix(prefix) {
		return time.Time{}, nil
	}

	rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
	nanos, _, ok := strings.Cut(rest, ":")
	if !ok {
		return time.Time{}, fmt.Errorf("malformed message key %q", it.Item().Key())
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed message key %q: %w", it.Item().Key(), err)
	}
	return time.Unix(0, n).UTC(), nil
}

func (r *BadgerMessageRepository) Append(ctx context.Context, msg *models.Message) (*models.Message, error) {
	stored := *msg
	stored.MediaURL = ""
	stored.ChatID = models.ConversationKey(msg.SenderID, msg.ReceiverID)

	unlock := r.locks.Lock(stored.ChatID)
	defer unlock()

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, "append message", err)
	}

	id, err := r.seq.Next()
	if err != nil {
		return nil, classify(ctx, "append message", err)
	}
	// sequences start at zero, row ids at one
	stored.ID = uint(id + 1)

	err = r.db.Update(func(txn *badger.Txn) error {
		prev, err := latestTimestamp(txn, stored.ChatID)
		if err != nil {
			return err
		}
		stored.Timestamp = stamp(r.now(), prev)
		// badger ignores contexts; a deadline that passed while reading
		// discards the transaction before anything is written
		if err := ctx.Err(); err != nil {
			return err
		}

		value, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		if err := txn.Set(messageKey(stored.ChatID, stored.Timestamp, id+1), value); err != nil {
			return err
		}
		if err := txn.Set(conversationKey(stored.SenderID, stored.ReceiverID), nil); err != nil {
			return err
		}
		return txn.Set(conversationKey(stored.ReceiverID, stored.SenderID), nil)
	})
	if err != nil {
		if errors.Is(err, badger.ErrConflict) {
			r.log.Warn("badger append conflict", "chat_id", stored.ChatID)
		}
		return nil, classify(ctx, "append message", err)
	}

	return &stored, nil
}

func (r *BadgerMessageRepository) FetchHistory(ctx context.Context, chatID string) ([]models.Message, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]models.Message, 0)
	prefix := []byte(messagePrefix(chatID))

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m models.Message
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			m.Timestamp = m.Timestamp.UTC()
			messages = append(messages, m)
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, classify(ctx, "fetch history", err)
	}
	return messages, nil
}

func (r *BadgerMessageRepository) ListCounterparts(ctx context.Context, userID uint) ([]uint, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	prefix := []byte(fmt.Sprintf("conv:%d:", userID))
	var keys []string

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)[len(prefix):]))
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, classify(ctx, "list counterparts", err)
	}

	ids := lo.FilterMap(keys, func(k string, _ int) (uint, bool) {
		n, err := strconv.ParseUint(k, 10, 0)
		return uint(n), err == nil && n != 0
	})
	// key order is lexical ("10" < "9"), callers expect numeric
	slices.Sort(ids)
	return ids, nil
}
