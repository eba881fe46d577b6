package store

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEntityID indicates that an entity identifier is empty, too long, or contains a separator.
	ErrInvalidEntityID = errors.New("store: invalid entity id")
	// ErrInvalidPath indicates that a raw path does not match any known layout.
	ErrInvalidPath = errors.New("store: invalid path")
)

// EntityID represents a validated path segment such as a video, channel or user id.
type EntityID string

// NewEntityID validates raw input and returns an EntityID.
func NewEntityID(rawInput string) (EntityID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEntityID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEntityID, maxIdentifierLength)
	}
	if strings.Contains(trimmed, pathSeparator) {
		return "", fmt.Errorf("%w: contains %q", ErrInvalidEntityID, pathSeparator)
	}
	return EntityID(trimmed), nil
}

// String returns the underlying identifier.
func (id EntityID) String() string {
	return string(id)
}

// PathKind classifies what is stored at a path.
type PathKind int

const (
	// PathKindCounter is a non-negative integer mutated only by Adjust.
	PathKindCounter PathKind = iota + 1
	// PathKindFlag is a per-user membership marker; presence means member.
	PathKindFlag
	// PathKindFeed is an append-only comment collection.
	PathKindFeed
)

func (k PathKind) String() string {
	switch k {
	case PathKindCounter:
		return "counter"
	case PathKindFlag:
		return "flag"
	case PathKindFeed:
		return "feed"
	default:
		return "unknown"
	}
}

const (
	pathSeparator = "/"

	rootVideos   = "videos"
	rootChannels = "channels"
	rootUsers    = "users"

	fieldLikeCount       = "likeCount"
	fieldViews           = "views"
	fieldSubscriberCount = "subscriberCount"
	fieldVideoCount      = "videoCount"
	fieldViewCount       = "viewCount"
	collectionLikes      = "likes"
	collectionSubscriber = "subscribers"
	collectionComments   = "comments"
)

var (
	counterFields = map[string]map[string]struct{}{
		rootVideos:   {fieldLikeCount: {}, fieldViews: {}},
		rootChannels: {fieldSubscriberCount: {}},
		rootUsers:    {fieldVideoCount: {}, fieldViewCount: {}},
	}
	flagCollections = map[string]string{
		rootVideos:   collectionLikes,
		rootChannels: collectionSubscriber,
	}
	feedCollections = map[string]string{
		rootVideos: collectionComments,
	}
)

// Path addresses one value in the store.
type Path struct {
	raw    string
	kind   PathKind
	parent string
	member string
}

// ParsePath validates raw against the known layouts.
func ParsePath(raw string) (Path, error) {
	segments := strings.Split(strings.Trim(strings.TrimSpace(raw), pathSeparator), pathSeparator)
	if len(segments) < 3 {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	root := segments[0]
	entity, err := NewEntityID(segments[1])
	if err != nil || entity.String() != segments[1] {
		return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
	}
	switch len(segments) {
	case 3:
		if fields, ok := counterFields[root]; ok {
			if _, ok := fields[segments[2]]; ok {
				return newCounterPath(root, entity, segments[2]), nil
			}
		}
		if collection, ok := feedCollections[root]; ok && collection == segments[2] {
			return newFeedPath(root, entity, collection), nil
		}
	case 4:
		if collection, ok := flagCollections[root]; ok && collection == segments[2] {
			member, err := NewEntityID(segments[3])
			if err == nil && member.String() == segments[3] {
				return newFlagPath(root, entity, collection, member), nil
			}
		}
	}
	return Path{}, fmt.Errorf("%w: %q", ErrInvalidPath, raw)
}

// String returns the slash-separated path.
func (p Path) String() string {
	return p.raw
}

// Kind reports what the path stores.
func (p Path) Kind() PathKind {
	return p.kind
}

// IsZero reports whether p was never initialized.
func (p Path) IsZero() bool {
	return p.raw == ""
}

// VideoLikeCountPath addresses a video's like counter.
func VideoLikeCountPath(videoID EntityID) Path {
	return newCounterPath(rootVideos, videoID, fieldLikeCount)
}

// VideoViewsPath addresses a video's view counter.
func VideoViewsPath(videoID EntityID) Path {
	return newCounterPath(rootVideos, videoID, fieldViews)
}

// ChannelSubscriberCountPath addresses a channel's subscriber counter.
func ChannelSubscriberCountPath(channelID EntityID) Path {
	return newCounterPath(rootChannels, channelID, fieldSubscriberCount)
}

// UserVideoCountPath addresses the profile statistic counting a user's uploads.
func UserVideoCountPath(userID EntityID) Path {
	return newCounterPath(rootUsers, userID, fieldVideoCount)
}

// UserViewCountPath addresses the profile statistic counting views across a user's uploads.
func UserViewCountPath(userID EntityID) Path {
	return newCounterPath(rootUsers, userID, fieldViewCount)
}

// VideoLikePath addresses the like flag of userID on a video.
func VideoLikePath(videoID, userID EntityID) Path {
	return newFlagPath(rootVideos, videoID, collectionLikes, userID)
}

// ChannelSubscriberPath addresses the subscription flag of userID on a channel.
func ChannelSubscriberPath(channelID, userID EntityID) Path {
	return newFlagPath(rootChannels, channelID, collectionSubscriber, userID)
}

// VideoCommentsPath addresses a video's comment feed.
func VideoCommentsPath(videoID EntityID) Path {
	return newFeedPath(rootVideos, videoID, collectionComments)
}

func newCounterPath(root string, entity EntityID, field string) Path {
	return Path{
		raw:  strings.Join([]string{root, entity.String(), field}, pathSeparator),
		kind: PathKindCounter,
	}
}

func newFlagPath(root string, entity EntityID, collection string, member EntityID) Path {
	parent := strings.Join([]string{root, entity.String(), collection}, pathSeparator)
	return Path{
		raw:    parent + pathSeparator + member.String(),
		kind:   PathKindFlag,
		parent: parent,
		member: member.String(),
	}
}

func newFeedPath(root string, entity EntityID, collection string) Path {
	return Path{
		raw:  strings.Join([]string{root, entity.String(), collection}, pathSeparator),
		kind: PathKindFeed,
	}
}
