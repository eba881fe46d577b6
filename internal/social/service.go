// Package social implements likes, subscriptions, view counting and comments
// on top of the counter, flag and feed primitives of the store.
package social

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

var (
	// ErrInvalidDelta indicates an adjust other than +1 or -1.
	ErrInvalidDelta = errors.New("social: delta must be +1 or -1")
	// ErrUnknownMembership indicates an unsupported membership kind.
	ErrUnknownMembership = errors.New("social: unknown membership kind")

	errMissingStore = errors.New("store is required")
	noOpLogger      = zap.NewNop()
)

const (
	opServiceNew       = "social.service.new"
	opAdjust           = "social.adjust"
	opToggleMembership = "social.toggle_membership"
	opSetMembership    = "social.set_membership"
	opRecordView       = "social.record_view"
	opAddComment       = "social.add_comment"
	opInteractions     = "social.interactions"
)

// MembershipKind names a per-user flag backed by a counter.
type MembershipKind string

const (
	// MembershipLike is a user's like of a video.
	MembershipLike MembershipKind = "like"
	// MembershipSubscription is a user's subscription to a channel.
	MembershipSubscription MembershipKind = "subscription"
)

// MembershipTarget identifies the entity a membership flag belongs to.
type MembershipTarget struct {
	Kind     MembershipKind
	EntityID store.EntityID
}

// MembershipResult reports the state after a membership change.
type MembershipResult struct {
	Present bool  `json:"present"`
	Count   int64 `json:"count"`
}

// ViewResult reports the counters after a recorded view.
type ViewResult struct {
	Views int64 `json:"views"`
}

// Interactions reports the viewer's membership flags for a video page.
type Interactions struct {
	Liked      bool `json:"liked"`
	Subscribed bool `json:"subscribed"`
}

// CommentInput carries a new comment from an authenticated author.
type CommentInput struct {
	AuthorID        string
	AuthorName      string
	Text            string
	CreatedAtMillis int64
}

// ServiceConfig wires the dependencies of a Service.
type ServiceConfig struct {
	Store  *store.Store
	Logger *zap.Logger
}

// Service coordinates multi-step social mutations.
type Service struct {
	store  *store.Store
	logger *zap.Logger
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, serviceerr.New(opServiceNew, "missing_store", errMissingStore)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{store: cfg.Store, logger: logger}, nil
}

// Adjust applies a single-step change to a counter.
func (s *Service) Adjust(ctx context.Context, path store.Path, delta int64) (int64, error) {
	if delta != 1 && delta != -1 {
		return 0, serviceerr.New(opAdjust, "invalid_delta", ErrInvalidDelta)
	}
	return s.store.Adjust(ctx, path, delta)
}

// ToggleMembership flips userID's membership on target and returns the new state.
func (s *Service) ToggleMembership(ctx context.Context, target MembershipTarget, userID store.EntityID) (MembershipResult, error) {
	flagPath, _, err := target.paths(userID)
	if err != nil {
		return MembershipResult{}, serviceerr.New(opToggleMembership, "unknown_kind", err)
	}
	present, err := s.store.HasFlag(ctx, flagPath)
	if err != nil {
		s.logError(opToggleMembership, "flag_read_failed", err, zap.String("path", flagPath.String()))
		return MembershipResult{}, err
	}
	return s.applyMembership(ctx, opToggleMembership, target, userID, !present)
}

// SetMembership drives userID's membership on target to desired. The counter
// only moves when the flag write actually changes the flag, so concurrent or
// repeated calls with the same desired state count once.
func (s *Service) SetMembership(ctx context.Context, target MembershipTarget, userID store.EntityID, desired bool) (MembershipResult, error) {
	return s.applyMembership(ctx, opSetMembership, target, userID, desired)
}

func (s *Service) applyMembership(ctx context.Context, operation string, target MembershipTarget, userID store.EntityID, desired bool) (MembershipResult, error) {
	flagPath, countPath, err := target.paths(userID)
	if err != nil {
		return MembershipResult{}, serviceerr.New(operation, "unknown_kind", err)
	}

	var changed bool
	delta := int64(1)
	if desired {
		changed, err = s.store.SetFlag(ctx, flagPath)
	} else {
		delta = -1
		changed, err = s.store.RemoveFlag(ctx, flagPath)
	}
	if err != nil {
		s.logError(operation, "flag_write_failed", err, zap.String("path", flagPath.String()))
		return MembershipResult{}, err
	}
	if !changed {
		count, err := s.store.ReadCounter(ctx, countPath)
		if err != nil {
			return MembershipResult{}, err
		}
		return MembershipResult{Present: desired, Count: count}, nil
	}

	count, err := s.Adjust(ctx, countPath, delta)
	if err != nil {
		// The flag write above is not rolled back; counter and flag may disagree.
		s.logger.Warn("membership counter out of step with flag",
			zap.String("operation", operation),
			zap.String("flag_path", flagPath.String()),
			zap.String("counter_path", countPath.String()),
			zap.Bool("present", desired),
			zap.Error(err))
		return MembershipResult{}, err
	}
	return MembershipResult{Present: desired, Count: count}, nil
}

// RecordView counts one page load of videoID and credits the uploader's profile.
func (s *Service) RecordView(ctx context.Context, videoID, uploaderID store.EntityID) (ViewResult, error) {
	views, err := s.Adjust(ctx, store.VideoViewsPath(videoID), 1)
	if err != nil {
		s.logError(opRecordView, "views_adjust_failed", err, zap.String("video_id", videoID.String()))
		return ViewResult{}, err
	}
	if uploaderID != "" {
		if _, err := s.Adjust(ctx, store.UserViewCountPath(uploaderID), 1); err != nil {
			s.logger.Warn("profile view count out of step with video views",
				zap.String("video_id", videoID.String()),
				zap.String("uploader_id", uploaderID.String()),
				zap.Error(err))
		}
	}
	return ViewResult{Views: views}, nil
}

// AddComment appends a comment to videoID's feed.
func (s *Service) AddComment(ctx context.Context, videoID store.EntityID, input CommentInput) (store.Comment, error) {
	authorName := strings.TrimSpace(input.AuthorName)
	if authorName == "" {
		authorName = "Anonymous"
	}
	comment, err := s.store.Append(ctx, store.VideoCommentsPath(videoID), store.CommentDraft{
		AuthorID:        input.AuthorID,
		AuthorName:      authorName,
		Text:            input.Text,
		CreatedAtMillis: input.CreatedAtMillis,
	})
	if err != nil {
		s.logError(opAddComment, "append_failed", err, zap.String("video_id", videoID.String()))
		return store.Comment{}, err
	}
	return comment, nil
}

// Comments returns videoID's feed, newest first.
func (s *Service) Comments(ctx context.Context, videoID store.EntityID) ([]store.Comment, error) {
	return s.store.ListComments(ctx, store.VideoCommentsPath(videoID))
}

// Interactions reads whether userID likes videoID and subscribes to channelID.
func (s *Service) Interactions(ctx context.Context, videoID, channelID, userID store.EntityID) (Interactions, error) {
	liked, err := s.store.HasFlag(ctx, store.VideoLikePath(videoID, userID))
	if err != nil {
		s.logError(opInteractions, "like_read_failed", err, zap.String("video_id", videoID.String()))
		return Interactions{}, err
	}
	subscribed, err := s.store.HasFlag(ctx, store.ChannelSubscriberPath(channelID, userID))
	if err != nil {
		s.logError(opInteractions, "subscription_read_failed", err, zap.String("channel_id", channelID.String()))
		return Interactions{}, err
	}
	return Interactions{Liked: liked, Subscribed: subscribed}, nil
}

// Counter reads the counter at path.
func (s *Service) Counter(ctx context.Context, path store.Path) (int64, error) {
	return s.store.ReadCounter(ctx, path)
}

// Subscribe opens a live subscription on path.
func (s *Service) Subscribe(ctx context.Context, path store.Path) (*store.Subscription, error) {
	return s.store.Subscribe(ctx, path)
}

func (t MembershipTarget) paths(userID store.EntityID) (store.Path, store.Path, error) {
	switch t.Kind {
	case MembershipLike:
		return store.VideoLikePath(t.EntityID, userID), store.VideoLikeCountPath(t.EntityID), nil
	case MembershipSubscription:
		return store.ChannelSubscriberPath(t.EntityID, userID), store.ChannelSubscriberCountPath(t.EntityID), nil
	default:
		return store.Path{}, store.Path{}, ErrUnknownMembership
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("social service error", attrs...)
}
