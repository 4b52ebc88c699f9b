package models

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidConversationKey is returned for keys not in canonical form
var ErrInvalidConversationKey = errors.New("invalid conversation key")

// ConversationKey returns the canonical key of the unordered pair {a, b}:
// the smaller id, an underscore, the larger id.
func ConversationKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return strconv.FormatUint(uint64(a), 10) + "_" + strconv.FormatUint(uint64(b), 10)
}

// ParseConversationKey returns the participants of a canonical key, smaller
// first. Keys with equal ids, reversed ids or non-canonical digits are rejected.
func ParseConversationKey(key string) (uint, uint, error) {
	left, right, ok := strings.Cut(key, "_")
	if !ok {
		return 0, 0, ErrInvalidConversationKey
	}
	a, err := parseID(left)
	if err != nil {
		return 0, 0, err
	}
	b, err := parseID(right)
	if err != nil {
		return 0, 0, err
	}
	if a >= b {
		return 0, 0, ErrInvalidConversationKey
	}
	return a, b, nil
}

func parseID(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 0)
	if err != nil || n == 0 || strconv.FormatUint(n, 10) != s {
		return 0, ErrInvalidConversationKey
	}
	return uint(n), nil
}

// IsParticipant reports whether userID is one of the two ids in key
func IsParticipant(key string, userID uint) bool {
	a, b, err := ParseConversationKey(key)
	return err == nil && (a == userID || b == userID)
}
