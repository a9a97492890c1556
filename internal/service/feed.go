package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

// maxFeedBatch bounds one change-feed response.
const maxFeedBatch = 200

// FeedService answers "what changed since version V" over the single global
// version counter assigned by the store.
type FeedService struct {
	store store.Store
	log   *logger.Logger
}

// NewFeedService creates a feed service.
func NewFeedService(st store.Store, log *logger.Logger) *FeedService {
	return &FeedService{store: st, log: log}
}

// Ready confirms the backing store is initialized, attempting one lazy
// initialization if it is not.
func (s *FeedService) Ready(ctx context.Context) error {
	return s.store.Ready(ctx)
}

// CurrentVersion returns the highest assigned version.
func (s *FeedService) CurrentVersion(ctx context.Context) (int64, error) {
	return s.store.CurrentVersion(ctx)
}

// NeedsUpdate reports whether any mutation happened after clientVersion.
func (s *FeedService) NeedsUpdate(ctx context.Context, clientVersion int64) (bool, error) {
	current, err := s.store.CurrentVersion(ctx)
	if err != nil {
		return false, err
	}
	return current > clientVersion, nil
}

// ChangesSince returns messages with version > clientVersion in ascending
// version order, optionally restricted to one handle, bounded to the feed
// batch size. The returned version is the resume point for the next poll:
// the current feed version, or for a full batch the last delivered version,
// since a full batch may be truncated and anything past it has not been
// delivered yet.
func (s *FeedService) ChangesSince(ctx context.Context, clientVersion int64, handle string) ([]model.ChatMessage, int64, error) {
	msgs, err := s.store.ChangesSince(ctx, clientVersion, handle, maxFeedBatch)
	if err != nil {
		return nil, 0, err
	}
	if len(msgs) == maxFeedBatch {
		return msgs, msgs[len(msgs)-1].Version, nil
	}
	current, err := s.store.CurrentVersion(ctx)
	if err != nil {
		return nil, 0, err
	}
	return msgs, current, nil
}

// Incremental builds a typed diff since a client version with a content
// checksum for client-side integrity verification.
func (s *FeedService) Incremental(ctx context.Context, clientVersion int64, diffType, handle string) (*model.IncrementalResponse, error) {
	resp := &model.IncrementalResponse{Type: diffType}

	switch diffType {
	case "messages":
		msgs, current, err := s.ChangesSince(ctx, clientVersion, handle)
		if err != nil {
			return nil, err
		}
		resp.Messages = msgs
		resp.Version = current
		sum, err := Checksum(msgs)
		if err != nil {
			return nil, err
		}
		resp.Checksum = sum
	case "conversations":
		convs, err := s.store.ListConversations(ctx)
		if err != nil {
			return nil, err
		}
		if handle != "" {
			filtered := convs[:0]
			for _, c := range convs {
				if c.Handle == handle {
					filtered = append(filtered, c)
				}
			}
			convs = filtered
		}
		current, err := s.store.CurrentVersion(ctx)
		if err != nil {
			return nil, err
		}
		resp.Conversations = convs
		resp.Version = current
		sum, err := Checksum(convs)
		if err != nil {
			return nil, err
		}
		resp.Checksum = sum
	default:
		return nil, fmt.Errorf("unknown incremental type %q", diffType)
	}
	return resp, nil
}

// Checksum is md5 over the canonical JSON form of v: object keys sorted,
// no insignificant whitespace. Round-tripping through a generic value makes
// encoding/json emit map keys in sorted order.
func Checksum(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(canonical)
	return hex.EncodeToString(sum[:]), nil
}
