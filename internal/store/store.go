// Package store persists counters, membership flags and comment feeds,
// and fans full snapshots of changed paths out to live subscribers.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/serviceerr"
)

const (
	defaultMaxAdjustAttempts = 8
	maxCommentLength         = 2000

	opStoreNew     = "store.new"
	opAdjust       = "store.adjust"
	opReadCounter  = "store.read_counter"
	opSetFlag      = "store.set_flag"
	opRemoveFlag   = "store.remove_flag"
	opHasFlag      = "store.has_flag"
	opAppend       = "store.append"
	opListComments = "store.list_comments"
	opSubscribe    = "store.subscribe"
	opSnapshot     = "store.snapshot"
)

var (
	// ErrWrongPathKind indicates an operation applied to a path of another kind,
	// such as adjusting a feed.
	ErrWrongPathKind = errors.New("store: path kind does not support operation")
	// ErrEmptyText indicates a comment without text.
	ErrEmptyText = errors.New("store: comment text is required")
	// ErrTextTooLong indicates a comment above the length limit.
	ErrTextTooLong = errors.New("store: comment text is too long")
	// ErrMissingAuthor indicates a comment without an author id.
	ErrMissingAuthor = errors.New("store: comment author is required")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingDispatcher = errors.New("dispatcher is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// StoreConfig wires the dependencies of a Store.
type StoreConfig struct {
	Database          *gorm.DB
	Dispatcher        *realtime.Dispatcher
	Clock             func() time.Time
	IDProvider        ids.Provider
	Logger            *zap.Logger
	MaxAdjustAttempts int
}

// Store is the single source of truth for social state.
type Store struct {
	db          *gorm.DB
	dispatcher  *realtime.Dispatcher
	clock       func() time.Time
	idProvider  ids.Provider
	logger      *zap.Logger
	maxAttempts int

	// notifyMu orders snapshot loads with subscription registration so a
	// subscriber never keeps a snapshot older than the latest committed write.
	notifyMu sync.Mutex
}

// Subscription delivers snapshots of one path until Close is called.
type Subscription struct {
	Path    Path
	Updates <-chan realtime.Snapshot
	cancel  func()
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// NewStore validates cfg and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.Dispatcher == nil {
		return nil, serviceerr.New(opStoreNew, "missing_dispatcher", errMissingDispatcher)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	attempts := cfg.MaxAdjustAttempts
	if attempts <= 0 {
		attempts = defaultMaxAdjustAttempts
	}
	return &Store{
		db:          cfg.Database,
		dispatcher:  cfg.Dispatcher,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		maxAttempts: attempts,
	}, nil
}

// Adjust atomically adds delta to the counter at path, clamping the result at zero,
// and returns the committed value. A missing counter counts as zero.
func (s *Store) Adjust(ctx context.Context, path Path, delta int64) (int64, error) {
	if path.Kind() != PathKindCounter {
		return 0, serviceerr.New(opAdjust, "invalid_path", fmt.Errorf("%w: %s", ErrWrongPathKind, path.Kind()))
	}

	var committed int64
	err := withRetry(ctx, s.maxAttempts, func() error {
		value, err := s.adjustOnce(ctx, path, delta)
		if err != nil {
			return err
		}
		committed = value
		return nil
	}, func(attempt int, err error) {
		s.logger.Debug("counter adjust retry",
			zap.String("path", path.String()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})
	if err != nil {
		if errors.Is(err, errRetriesExhausted) {
			s.logError(opAdjust, "conflict", err, zap.String("path", path.String()))
			return 0, serviceerr.New(opAdjust, "conflict", err)
		}
		s.logError(opAdjust, "write_failed", err, zap.String("path", path.String()))
		return 0, serviceerr.New(opAdjust, "write_failed", err)
	}

	s.notify(path)
	return committed, nil
}

func (s *Store) adjustOnce(ctx context.Context, path Path, delta int64) (int64, error) {
	nowMillis := s.clock().UTC().UnixMilli()
	initial := delta
	if initial < 0 {
		initial = 0
	}

	var committed Counter
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := Counter{Path: path.String(), Value: initial, UpdatedAtMillis: nowMillis}
		upsert := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "path"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":         gorm.Expr("CASE WHEN counters.value + ? < 0 THEN 0 ELSE counters.value + ? END", delta, delta),
				"updated_at_ms": nowMillis,
			}),
		}).Create(&row)
		if upsert.Error != nil {
			return upsert.Error
		}
		return tx.Where("path = ?", path.String()).Take(&committed).Error
	})
	if err != nil {
		return 0, err
	}
	return committed.Value, nil
}

// ReadCounter returns the counter value at path, zero when absent.
func (s *Store) ReadCounter(ctx context.Context, path Path) (int64, error) {
	if path.Kind() != PathKindCounter {
		return 0, serviceerr.New(opReadCounter, "invalid_path", fmt.Errorf("%w: %s", ErrWrongPathKind, path.Kind()))
	}
	value, _, err := s.readCounter(ctx, path)
	if err != nil {
		s.logError(opReadCounter, "query_failed", err, zap.String("path", path.String()))
		return 0, serviceerr.New(opReadCounter, "query_failed", err)
	}
	return value, nil
}

// SetFlag records membership at a flag path and reports whether the flag was
// newly written. Setting an existing flag changes nothing and reports false.
func (s *Store) SetFlag(ctx context.Context, path Path) (bool, error) {
	if path.Kind() != PathKindFlag {
		return false, serviceerr.New(opSetFlag, "invalid_path", fmt.Errorf("%w: %s", ErrWrongPathKind, path.Kind()))
	}
	flag := MembershipFlag{
		Collection:      path.parent,
		UserID:          path.member,
		CreatedAtMillis: s.clock().UTC().UnixMilli(),
	}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&flag)
	if result.Error != nil {
		s.logError(opSetFlag, "write_failed", result.Error, zap.String("path", path.String()))
		return false, serviceerr.New(opSetFlag, "write_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	s.notify(path)
	return true, nil
}

// RemoveFlag deletes the flag at path and reports whether a flag was removed.
func (s *Store) RemoveFlag(ctx context.Context, path Path) (bool, error) {
	if path.Kind() != PathKindFlag {
		return false, serviceerr.New(opRemoveFlag, "invalid_path", fmt.Errorf("%w: %s", ErrWrongPathKind, path.Kind()))
	}
	result := s.db.WithContext(ctx).
		Where("collection = ? AND user_id = ?", path.parent, path.member).
		Delete(&MembershipFlag{})
	if result.Error != nil {
		s.logError(opRemoveFlag, "write_failed", result.Error, zap.String("path", path.String()))
		return false, serviceerr.New(opRemoveFlag, "write_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	s.notify(path)
	return true, nil
}

// HasFlag reports whether the flag at path is present.
func (s *Store) HasFlag(ctx context.Context, path Path) (bool, error) {
	if path.Kind() != PathKindFlag {
		return false, serviceerr.New(opHasFlag, "invalid_path", fmt.Errorf("%w: %s", ErrWrongPathKind, path.Kind()))
	}
	present, err := s.hasFlag(ctx, path)
	if err != nil {
		s.logError(opHasFlag, "query_failed", err, zap.String("path", path.String()))
		return false, serviceerr.New(opHasFlag, "query_failed", err)
	}
	return present, nil
}

// Append adds a new comment to the feed at path and returns the stored entry.
func (s *Store) Append(ctx context.Context, path Path, draft CommentDraft) (Comment, error) {
	if path.Kind() != PathKindFeed {
		return Comment{}, serviceerr.New(opAppend, "invalid_path", fmt.Errorf("%w: %s", ErrWrongPathKind, path.Kind()))
	}
	text := strings.TrimSpace(draft.Text)
	if text == "" {
		return Comment{}, serviceerr.New(opAppend, "empty_text", ErrEmptyText)
	}
	if len([]rune(text)) > maxCommentLength {
		return Comment{}, serviceerr.New(opAppend, "text_too_long", ErrTextTooLong)
	}
	if strings.TrimSpace(draft.AuthorID) == "" {
		return Comment{}, serviceerr.New(opAppend, "missing_author", ErrMissingAuthor)
	}
	commentID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppend, "id_generation_failed", err, zap.String("path", path.String()))
		return Comment{}, serviceerr.New(opAppend, "id_generation_failed", err)
	}
	createdAt := draft.CreatedAtMillis
	if createdAt <= 0 {
		createdAt = s.clock().UTC().UnixMilli()
	}
	comment := Comment{
		CommentID:       commentID,
		FeedPath:        path.String(),
		AuthorID:        strings.TrimSpace(draft.AuthorID),
		AuthorName:      strings.TrimSpace(draft.AuthorName),
		Text:            text,
		CreatedAtMillis: createdAt,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opAppend, "write_failed", err, zap.String("path", path.String()))
		return Comment{}, serviceerr.New(opAppend, "write_failed", err)
	}
	s.notify(path)
	return comment, nil
}

// ListComments returns the feed at path, newest first. Equal timestamps
// are ordered by insertion, most recent first.
func (s *Store) ListComments(ctx context.Context, path Path) ([]Comment, error) {
	if path.Kind() != PathKindFeed {
		return nil, serviceerr.New(opListComments, "invalid_path", fmt.Errorf("%w: %s", ErrWrongPathKind, path.Kind()))
	}
	comments, err := s.listComments(ctx, path)
	if err != nil {
		s.logError(opListComments, "query_failed", err, zap.String("path", path.String()))
		return nil, serviceerr.New(opListComments, "query_failed", err)
	}
	return comments, nil
}

// Snapshot loads the current full value at path.
func (s *Store) Snapshot(ctx context.Context, path Path) (realtime.Snapshot, error) {
	snapshot, err := s.loadSnapshot(ctx, path)
	if err != nil {
		s.logError(opSnapshot, "query_failed", err, zap.String("path", path.String()))
		return realtime.Snapshot{}, serviceerr.New(opSnapshot, "query_failed", err)
	}
	return snapshot, nil
}

// Subscribe starts a live subscription to path. The current value is
// delivered first, followed by a full snapshot after every change.
func (s *Store) Subscribe(ctx context.Context, path Path) (*Subscription, error) {
	if path.IsZero() {
		return nil, serviceerr.New(opSubscribe, "invalid_path", ErrInvalidPath)
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	initial, err := s.loadSnapshot(ctx, path)
	if err != nil {
		s.logError(opSubscribe, "snapshot_failed", err, zap.String("path", path.String()))
		return nil, serviceerr.New(opSubscribe, "snapshot_failed", err)
	}
	updates, cancel := s.dispatcher.SubscribeFrom(ctx, path.String(), initial)
	return &Subscription{Path: path, Updates: updates, cancel: cancel}, nil
}

func (s *Store) notify(path Path) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if s.dispatcher.SubscriberCount(path.String()) == 0 {
		return
	}
	snapshot, err := s.loadSnapshot(context.Background(), path)
	if err != nil {
		s.logger.Warn("snapshot load failed", zap.String("path", path.String()), zap.Error(err))
		return
	}
	s.dispatcher.Publish(snapshot)
}

func (s *Store) loadSnapshot(ctx context.Context, path Path) (realtime.Snapshot, error) {
	snapshot := realtime.Snapshot{Path: path.String(), Timestamp: s.clock().UTC()}
	switch path.Kind() {
	case PathKindCounter:
		value, exists, err := s.readCounter(ctx, path)
		if err != nil {
			return realtime.Snapshot{}, err
		}
		snapshot.Exists = exists
		snapshot.Data = value
	case PathKindFlag:
		present, err := s.hasFlag(ctx, path)
		if err != nil {
			return realtime.Snapshot{}, err
		}
		snapshot.Exists = present
		snapshot.Data = present
	case PathKindFeed:
		comments, err := s.listComments(ctx, path)
		if err != nil {
			return realtime.Snapshot{}, err
		}
		snapshot.Exists = len(comments) > 0
		snapshot.Data = comments
	default:
		return realtime.Snapshot{}, ErrInvalidPath
	}
	return snapshot, nil
}

func (s *Store) readCounter(ctx context.Context, path Path) (int64, bool, error) {
	var counter Counter
	err := s.db.WithContext(ctx).Where("path = ?", path.String()).Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return counter.Value, true, nil
}

func (s *Store) hasFlag(ctx context.Context, path Path) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&MembershipFlag{}).
		Where("collection = ? AND user_id = ?", path.parent, path.member).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) listComments(ctx context.Context, path Path) ([]Comment, error) {
	comments := make([]Comment, 0)
	if err := s.db.WithContext(ctx).
		Where("feed_path = ?", path.String()).
		Order("created_at_ms DESC").
		Order("seq DESC").
		Find(&comments).Error; err != nil {
		return nil, err
	}
	return comments, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("store error", attrs...)
}
