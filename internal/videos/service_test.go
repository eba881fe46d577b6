package videos

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

type fakeMedia struct {
	mu       sync.Mutex
	failKind media.AssetKind
	uploads  []media.AssetKind
}

func (m *fakeMedia) Upload(_ context.Context, asset media.Asset) (string, error) {
	_, _ = io.ReadAll(asset.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, asset.Kind)
	if asset.Kind == m.failKind {
		return "", fmt.Errorf("%w: rejected", media.ErrUploadFailed)
	}
	return fmt.Sprintf("https://cdn.example.com/%s/%s", asset.Kind, asset.Filename), nil
}

type memoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func (c *memoryCounters) Adjust(_ context.Context, path store.Path, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.values[path.String()] + delta
	if next < 0 {
		next = 0
	}
	c.values[path.String()] = next
	return next, nil
}

func (c *memoryCounters) ReadCounter(_ context.Context, path store.Path) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[path.String()], nil
}

var owner = Uploader{UserID: "owner-1", DisplayName: "Owner"}

func TestCreateUploadsBothFilesAndCountsVideo(t *testing.T) {
	service, uploads, counters := mustVideoService(t)

	video, err := service.Create(context.Background(), owner, validInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if video.VideoURL != "https://cdn.example.com/video/clip.mp4" || video.ThumbnailURL != "https://cdn.example.com/image/thumb.png" {
		t.Fatalf("unexpected urls %q %q", video.VideoURL, video.ThumbnailURL)
	}
	if video.Duration != "2:05" {
		t.Fatalf("unexpected duration %q", video.Duration)
	}
	if len(uploads.uploads) != 2 {
		t.Fatalf("expected two uploads, got %v", uploads.uploads)
	}
	if counters.values["users/owner-1/videoCount"] != 1 {
		t.Fatalf("expected video count 1, got %d", counters.values["users/owner-1/videoCount"])
	}
}

func TestCreateWritesNothingWhenUploadFails(t *testing.T) {
	service, uploads, counters := mustVideoService(t)
	uploads.failKind = media.AssetImage

	_, err := service.Create(context.Background(), owner, validInput())
	if !errors.Is(err, media.ErrUploadFailed) {
		t.Fatalf("expected upload failure, got %v", err)
	}
	var rows int64
	service.db.Model(&Video{}).Count(&rows)
	if rows != 0 {
		t.Fatalf("expected no video rows, found %d", rows)
	}
	if counters.values["users/owner-1/videoCount"] != 0 {
		t.Fatalf("expected video count untouched")
	}
}

func TestCreateValidatesInput(t *testing.T) {
	service, _, _ := mustVideoService(t)

	missingTitle := validInput()
	missingTitle.Title = " "
	if _, err := service.Create(context.Background(), owner, missingTitle); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	badCategory := validInput()
	badCategory.Category = "Cooking"
	if _, err := service.Create(context.Background(), owner, badCategory); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	noThumbnail := validInput()
	noThumbnail.Thumbnail = nil
	if _, err := service.Create(context.Background(), owner, noThumbnail); !errors.Is(err, ErrMissingMedia) {
		t.Fatalf("expected ErrMissingMedia, got %v", err)
	}
}

func TestUpdateKeepsExistingMediaAndChecksOwner(t *testing.T) {
	service, _, _ := mustVideoService(t)
	created, err := service.Create(context.Background(), owner, validInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	edit := Input{Title: "New title", Description: "New description", Category: string(CategoryFPS), DurationSeconds: 9999}
	if _, err := service.Update(context.Background(), Uploader{UserID: "intruder"}, created.VideoID, edit); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	updated, err := service.Update(context.Background(), owner, created.VideoID, edit)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Title != "New title" || updated.Category != "FPS" {
		t.Fatalf("unexpected update %+v", updated)
	}
	if updated.VideoURL != created.VideoURL || updated.Duration != created.Duration {
		t.Fatalf("expected media and duration to be kept, got %+v", updated)
	}
}

func TestDeleteRemovesVideoAndDecrementsCount(t *testing.T) {
	service, _, counters := mustVideoService(t)
	created, err := service.Create(context.Background(), owner, validInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := service.Delete(context.Background(), Uploader{UserID: "intruder"}, created.VideoID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := service.Delete(context.Background(), owner, created.VideoID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := service.Get(context.Background(), created.VideoID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if counters.values["users/owner-1/videoCount"] != 0 {
		t.Fatalf("expected video count 0, got %d", counters.values["users/owner-1/videoCount"])
	}
}

func TestListFiltersByCategoryAndSearch(t *testing.T) {
	service, _, _ := mustVideoService(t)
	now := time.UnixMilli(1_000)
	service.clock = func() time.Time { now = now.Add(time.Second); return now }

	inputs := []Input{
		{Title: "Jett clutch", Description: "ace round", Category: string(CategoryValorant)},
		{Title: "Zone tips", Description: "Circle 100% rotations", Category: string(CategoryBattleRoyale)},
		{Title: "Aim drills", Description: "JETT movement practice", Category: string(CategoryFPS)},
	}
	for _, input := range inputs {
		input.Video = &media.Asset{Filename: "v.mp4", Body: strings.NewReader("v")}
		input.Thumbnail = &media.Asset{Filename: "t.png", Body: strings.NewReader("t")}
		if _, err := service.Create(context.Background(), owner, input); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	all, err := service.List(context.Background(), ListFilter{})
	if err != nil || len(all) != 3 || all[0].Title != "Aim drills" {
		t.Fatalf("expected newest first, got %v (%v)", titles(all), err)
	}
	jett, err := service.List(context.Background(), ListFilter{Search: "jett"})
	if err != nil || titles(jett) != "Aim drills,Jett clutch" {
		t.Fatalf("unexpected search result %s (%v)", titles(jett), err)
	}
	percent, err := service.List(context.Background(), ListFilter{Search: "100%"})
	if err != nil || titles(percent) != "Zone tips" {
		t.Fatalf("unexpected literal search result %s (%v)", titles(percent), err)
	}
	valorant, err := service.List(context.Background(), ListFilter{Category: "Valorant", Search: "jett"})
	if err != nil || titles(valorant) != "Jett clutch" {
		t.Fatalf("unexpected category result %s (%v)", titles(valorant), err)
	}
	mine, err := service.ListByUploader(context.Background(), owner.UserID)
	if err != nil || len(mine) != 3 {
		t.Fatalf("expected uploader videos, got %d (%v)", len(mine), err)
	}
}

func TestGetIncludesCounters(t *testing.T) {
	service, _, counters := mustVideoService(t)
	created, err := service.Create(context.Background(), owner, validInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	counters.values["videos/"+created.VideoID+"/views"] = 7
	counters.values["videos/"+created.VideoID+"/likeCount"] = 2

	details, err := service.Get(context.Background(), created.VideoID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if details.Views != 7 || details.Likes != 2 {
		t.Fatalf("unexpected counters %+v", details)
	}
}

func TestFormatDuration(t *testing.T) {
	testCases := map[int64]string{
		0:    "0:00",
		59:   "0:59",
		125:  "2:05",
		3600: "1:00:00",
		3725: "1:02:05",
		-4:   "0:00",
	}
	for seconds, want := range testCases {
		if got := FormatDuration(seconds); got != want {
			t.Fatalf("FormatDuration(%d) = %q, want %q", seconds, got, want)
		}
	}
}

func validInput() Input {
	return Input{
		Title:           "Ace on Ascent",
		Description:     "Five kills with Jett",
		Category:        string(CategoryValorant),
		DurationSeconds: 125,
		Video:           &media.Asset{Filename: "clip.mp4", Body: strings.NewReader("video")},
		Thumbnail:       &media.Asset{Filename: "thumb.png", Body: strings.NewReader("image")},
	}
}

func titles(videos []Video) string {
	values := make([]string, 0, len(videos))
	for _, video := range videos {
		values = append(values, video.Title)
	}
	return strings.Join(values, ",")
}

func mustVideoService(t *testing.T) (*Service, *fakeMedia, *memoryCounters) {
	t.Helper()
	dsn := fmt.Sprintf("file:videos_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	uploads := &fakeMedia{}
	counters := &memoryCounters{values: make(map[string]int64)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Media:      uploads,
		Counters:   counters,
		IDProvider: ids.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service, uploads, counters
}
