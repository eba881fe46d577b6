// Package videos implements the video management console: upload, edit, delete and browse.
package videos

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

const (
	maxTitleLength = 200

	opServiceNew = "videos.service.new"
	opCreate     = "videos.create"
	opUpdate     = "videos.update"
	opDelete     = "videos.delete"
	opGet        = "videos.get"
	opList       = "videos.list"
	opUpload     = "videos.upload"
)

var (
	// ErrMissingField indicates a blank title, description or category.
	ErrMissingField = errors.New("videos: title, description and category are required")
	// ErrInvalidCategory indicates a category outside Categories.
	ErrInvalidCategory = errors.New("videos: invalid category")
	// ErrMissingMedia indicates a create request without a video or thumbnail file.
	ErrMissingMedia = errors.New("videos: video and thumbnail files are required")
	// ErrTitleTooLong indicates a title over the maximum length.
	ErrTitleTooLong = errors.New("videos: title too long")
	// ErrNotFound indicates no video exists for the id.
	ErrNotFound = errors.New("videos: not found")
	// ErrForbidden indicates the caller does not own the video.
	ErrForbidden = errors.New("videos: caller is not the uploader")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingUploader   = errors.New("media uploader is required")
	errMissingCounters   = errors.New("counter store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// CounterStore adjusts and reads counters.
type CounterStore interface {
	Adjust(ctx context.Context, path store.Path, delta int64) (int64, error)
	ReadCounter(ctx context.Context, path store.Path) (int64, error)
}

// Uploader identifies the account performing a change.
type Uploader struct {
	UserID      string
	DisplayName string
}

// Input carries the form fields of a create or update request.
// Video and Thumbnail are required on create and optional on update.
type Input struct {
	Title           string
	Description     string
	Category        string
	DurationSeconds int64
	Video           *media.Asset
	Thumbnail       *media.Asset
}

// Details is a video together with its counters.
type Details struct {
	Video
	Views int64 `json:"views"`
	Likes int64 `json:"likes"`
}

// ListFilter narrows List results.
type ListFilter struct {
	Category string
	Search   string
	Limit    int
}

// ServiceConfig wires the dependencies of a Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Media      media.Uploader
	Counters   CounterStore
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages video records.
type Service struct {
	db         *gorm.DB
	media      media.Uploader
	counters   CounterStore
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Media == nil {
		return nil, serviceerr.New(opServiceNew, "missing_media", errMissingUploader)
	}
	if cfg.Counters == nil {
		return nil, serviceerr.New(opServiceNew, "missing_counters", errMissingCounters)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		media:      cfg.Media,
		counters:   cfg.Counters,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create uploads both files, then persists the video and bumps the uploader's video count.
// Nothing is written when either upload fails.
func (s *Service) Create(ctx context.Context, uploader Uploader, input Input) (Video, error) {
	title, description, category, err := validateFields(input)
	if err != nil {
		return Video{}, err
	}
	if input.Video == nil || input.Thumbnail == nil {
		return Video{}, ErrMissingMedia
	}
	uploaderID, err := store.NewEntityID(uploader.UserID)
	if err != nil {
		return Video{}, serviceerr.New(opCreate, "invalid_uploader", err)
	}

	videoURL, thumbnailURL, err := s.uploadAssets(ctx, input.Video, input.Thumbnail)
	if err != nil {
		return Video{}, err
	}

	videoID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Video{}, serviceerr.New(opCreate, "id_generation_failed", err)
	}
	nowMillis := s.clock().UTC().UnixMilli()
	video := Video{
		VideoID:         videoID,
		Title:           title,
		Description:     description,
		Category:        string(category),
		VideoURL:        videoURL,
		ThumbnailURL:    thumbnailURL,
		Duration:        FormatDuration(input.DurationSeconds),
		DurationSeconds: maxInt64(input.DurationSeconds, 0),
		UploaderID:      uploaderID.String(),
		UploaderName:    strings.TrimSpace(uploader.DisplayName),
		CreatedAtMillis: nowMillis,
		UpdatedAtMillis: nowMillis,
	}
	if err := s.db.WithContext(ctx).Create(&video).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("uploader_id", video.UploaderID))
		return Video{}, serviceerr.New(opCreate, "insert_failed", err)
	}
	if _, err := s.counters.Adjust(ctx, store.UserVideoCountPath(uploaderID), 1); err != nil {
		s.logger.Warn("video count out of step with uploads",
			zap.String("uploader_id", video.UploaderID),
			zap.String("video_id", video.VideoID),
			zap.Error(err))
	}
	return video, nil
}

// Update edits a video owned by uploader. Files left nil keep their current URLs;
// the duration only changes when a new video file is supplied.
func (s *Service) Update(ctx context.Context, uploader Uploader, videoID string, input Input) (Video, error) {
	title, description, category, err := validateFields(input)
	if err != nil {
		return Video{}, err
	}
	video, err := s.load(ctx, opUpdate, videoID)
	if err != nil {
		return Video{}, err
	}
	if video.UploaderID != strings.TrimSpace(uploader.UserID) {
		return Video{}, ErrForbidden
	}

	videoURL, thumbnailURL, err := s.uploadAssets(ctx, input.Video, input.Thumbnail)
	if err != nil {
		return Video{}, err
	}

	updates := map[string]interface{}{
		"title":         title,
		"description":   description,
		"category":      string(category),
		"updated_at_ms": s.clock().UTC().UnixMilli(),
	}
	if videoURL != "" {
		updates["video_url"] = videoURL
		updates["duration"] = FormatDuration(input.DurationSeconds)
		updates["duration_seconds"] = maxInt64(input.DurationSeconds, 0)
	}
	if thumbnailURL != "" {
		updates["thumbnail_url"] = thumbnailURL
	}
	if err := s.db.WithContext(ctx).Model(&Video{}).
		Where("video_id = ?", video.VideoID).
		Updates(updates).Error; err != nil {
		s.logError(opUpdate, "update_failed", err, zap.String("video_id", video.VideoID))
		return Video{}, serviceerr.New(opUpdate, "update_failed", err)
	}
	return s.load(ctx, opUpdate, video.VideoID)
}

// Delete removes a video owned by uploader and decrements the uploader's video count.
// Counters and comments of the video are left in place.
func (s *Service) Delete(ctx context.Context, uploader Uploader, videoID string) error {
	video, err := s.load(ctx, opDelete, videoID)
	if err != nil {
		return err
	}
	if video.UploaderID != strings.TrimSpace(uploader.UserID) {
		return ErrForbidden
	}
	if err := s.db.WithContext(ctx).Where("video_id = ?", video.VideoID).Delete(&Video{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("video_id", video.VideoID))
		return serviceerr.New(opDelete, "delete_failed", err)
	}
	uploaderID, err := store.NewEntityID(video.UploaderID)
	if err != nil {
		return nil
	}
	if _, err := s.counters.Adjust(ctx, store.UserVideoCountPath(uploaderID), -1); err != nil {
		s.logger.Warn("video count out of step with uploads",
			zap.String("uploader_id", video.UploaderID),
			zap.String("video_id", video.VideoID),
			zap.Error(err))
	}
	return nil
}

// Get returns a video with its view and like counters.
func (s *Service) Get(ctx context.Context, videoID string) (Details, error) {
	video, err := s.load(ctx, opGet, videoID)
	if err != nil {
		return Details{}, err
	}
	return s.details(ctx, video)
}

// List returns videos newest first, filtered by exact category and a
// case-insensitive substring of title or description.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Video, error) {
	query := s.db.WithContext(ctx).Model(&Video{})
	if category := strings.TrimSpace(filter.Category); category != "" {
		query = query.Where("category = ?", category)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		query = query.Where("(LOWER(title) LIKE ? ESCAPE '\\' OR LOWER(description) LIKE ? ESCAPE '\\')", pattern, pattern)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	videos := make([]Video, 0)
	if err := query.Order("created_at_ms DESC").Find(&videos).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return videos, nil
}

// ListByUploader returns userID's uploads, newest first.
func (s *Service) ListByUploader(ctx context.Context, userID string) ([]Video, error) {
	videos := make([]Video, 0)
	if err := s.db.WithContext(ctx).
		Where("uploader_id = ?", strings.TrimSpace(userID)).
		Order("created_at_ms DESC").
		Find(&videos).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("uploader_id", userID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return videos, nil
}

func (s *Service) details(ctx context.Context, video Video) (Details, error) {
	id, err := store.NewEntityID(video.VideoID)
	if err != nil {
		return Details{}, serviceerr.New(opGet, "invalid_video_id", err)
	}
	views, err := s.counters.ReadCounter(ctx, store.VideoViewsPath(id))
	if err != nil {
		return Details{}, err
	}
	likes, err := s.counters.ReadCounter(ctx, store.VideoLikeCountPath(id))
	if err != nil {
		return Details{}, err
	}
	return Details{Video: video, Views: views, Likes: likes}, nil
}

func (s *Service) load(ctx context.Context, operation, videoID string) (Video, error) {
	id := strings.TrimSpace(videoID)
	if id == "" {
		return Video{}, ErrNotFound
	}
	var video Video
	err := s.db.WithContext(ctx).Where("video_id = ?", id).Take(&video).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Video{}, ErrNotFound
	}
	if err != nil {
		s.logError(operation, "query_failed", err, zap.String("video_id", id))
		return Video{}, serviceerr.New(operation, "query_failed", err)
	}
	return video, nil
}

// uploadAssets uploads whichever of video and thumbnail are present, concurrently.
// It returns an error if any upload fails.
func (s *Service) uploadAssets(ctx context.Context, video, thumbnail *media.Asset) (string, string, error) {
	var videoURL, thumbnailURL string
	group, groupCtx := errgroup.WithContext(ctx)
	if video != nil {
		asset := *video
		asset.Kind = media.AssetVideo
		group.Go(func() error {
			url, err := s.media.Upload(groupCtx, asset)
			if err != nil {
				return err
			}
			videoURL = url
			return nil
		})
	}
	if thumbnail != nil {
		asset := *thumbnail
		asset.Kind = media.AssetImage
		group.Go(func() error {
			url, err := s.media.Upload(groupCtx, asset)
			if err != nil {
				return err
			}
			thumbnailURL = url
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		s.logError(opUpload, "upload_failed", err)
		return "", "", serviceerr.New(opUpload, "upload_failed", err)
	}
	return videoURL, thumbnailURL, nil
}

func validateFields(input Input) (string, string, Category, error) {
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	rawCategory := strings.TrimSpace(input.Category)
	if title == "" || description == "" || rawCategory == "" {
		return "", "", "", ErrMissingField
	}
	if len([]rune(title)) > maxTitleLength {
		return "", "", "", ErrTitleTooLong
	}
	category, err := ParseCategory(rawCategory)
	if err != nil {
		return "", "", "", err
	}
	return title, description, category, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
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
	s.logger.Error("videos service error", attrs...)
}
