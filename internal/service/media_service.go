package service

import (
	"context"

	"duo-chat/backend/pkg/blob"
	apperrors "duo-chat/backend/pkg/errors"
	"duo-chat/backend/pkg/logger"
)

// StoredMedia is an uploaded attachment ready to be referenced by a message
type StoredMedia struct {
	Ref         string `json:"media_ref"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// MediaService accepts image and video attachments for messages
type MediaService struct {
	blobs blob.Store
	log   *logger.Logger
}

func NewMediaService(blobs blob.Store, log *logger.Logger) *MediaService {
	return &MediaService{blobs: blobs, log: log}
}

// Store sniffs the upload and keeps it if it is an image or a video
func (s *MediaService) Store(ctx context.Context, up *Upload) (*StoredMedia, error) {
	sniffed, err := blob.Sniff(up.Body)
	if err != nil {
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Unreadable file")
	}
	if !sniffed.IsMedia() {
		return nil, apperrors.NewBadRequestError(apperrors.CodeInvalidArgument, "Only images and videos are allowed")
	}

	ref, err := s.blobs.Put(ctx, blob.PrefixMedia, sniffed, up.Size, sniffed.BaseType())
	if err != nil {
		return nil, blobError(err)
	}

	url, err := s.blobs.Resolve(ctx, ref)
	if err != nil {
		s.log.Warn("failed to resolve stored media", "ref", ref, "error", err.Error())
	}
	return &StoredMedia{Ref: ref, URL: url, ContentType: sniffed.BaseType()}, nil
}

// Discard removes media whose message was never persisted
func (s *MediaService) Discard(ctx context.Context, ref string) {
	if err := s.blobs.Delete(ctx, ref); err != nil {
		s.log.Warn("failed to discard media", "ref", ref, "error", err.Error())
	}
}
