package models

import (
	"strings"
	"time"
)

// Message is one immutable entry of a two-party conversation. ID is assigned
// by the store and orders messages that share a timestamp.
type Message struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ChatID     string    `json:"chat_id" gorm:"size:64;not null;index:idx_messages_chat_ts,priority:1"`
	SenderID   uint      `json:"sender_id" gorm:"not null;index"`
	ReceiverID uint      `json:"receiver_id" gorm:"not null;index"`
	Content    *string   `json:"content" gorm:"type:text"`
	FilePath   *string   `json:"file_path" gorm:"size:512"`
	Timestamp  time.Time `json:"timestamp" gorm:"not null;precision:6;index:idx_messages_chat_ts,priority:2"`

	// MediaURL is FilePath resolved through the blob store for the reader
	MediaURL string `json:"media_url,omitempty" gorm:"-"`
}

// HasBody reports whether the message carries text or media. Whitespace-only
// text counts as absent.
func (m *Message) HasBody() bool {
	return HasText(m.Content) || (m.FilePath != nil && *m.FilePath != "")
}

// HasText reports a non-nil, non-blank string
func HasText(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// SubmitMessageRequest is the JSON body of POST /messages
type SubmitMessageRequest struct {
	ReceiverID uint    `json:"receiver_id" binding:"required"`
	Content    *string `json:"content"`
	MediaRef   *string `json:"media_ref"`
	ClientRef  string  `json:"client_ref" binding:"max=128"`
}

// HistoryResponse wraps an ordered conversation history
type HistoryResponse struct {
	ChatID   string    `json:"chat_id"`
	Messages []Message `json:"messages"`
}
