package videos

import "fmt"

// Category is one of the fixed video categories.
type Category string

const (
	CategoryValorant     Category = "Valorant"
	CategoryYoru         Category = "YORU"
	CategoryBattleRoyale Category = "Battle Royale"
	CategoryFPS          Category = "FPS"
	CategoryStrategy     Category = "Strategy"
	CategoryOther        Category = "Other"
)

// Categories lists the accepted categories in display order.
var Categories = []Category{
	CategoryValorant,
	CategoryYoru,
	CategoryBattleRoyale,
	CategoryFPS,
	CategoryStrategy,
	CategoryOther,
}

// ParseCategory validates raw against Categories.
func ParseCategory(raw string) (Category, error) {
	for _, category := range Categories {
		if string(category) == raw {
			return category, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidCategory, raw)
}

// Video is an uploaded video. View and like totals are counters, not columns.
type Video struct {
	VideoID         string `gorm:"column:video_id;primaryKey;size:64;not null" json:"id"`
	Title           string `gorm:"column:title;size:200;not null" json:"title"`
	Description     string `gorm:"column:description;type:text;not null" json:"description"`
	Category        string `gorm:"column:category;size:64;not null;index" json:"category"`
	VideoURL        string `gorm:"column:video_url;size:1024;not null" json:"videoUrl"`
	ThumbnailURL    string `gorm:"column:thumbnail_url;size:1024;not null" json:"thumbnailUrl"`
	Duration        string `gorm:"column:duration;size:16;not null" json:"duration"`
	DurationSeconds int64  `gorm:"column:duration_seconds;not null" json:"durationSeconds"`
	UploaderID      string `gorm:"column:uploader_id;size:190;not null;index:idx_videos_uploader_time,priority:1" json:"uploaderId"`
	UploaderName    string `gorm:"column:uploader_name;size:320;not null" json:"uploaderName"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_videos_uploader_time,priority:2" json:"createdAt"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (Video) TableName() string {
	return "videos"
}

// Models lists every table owned by the videos package, for schema migration.
func Models() []interface{} {
	return []interface{}{&Video{}}
}

// FormatDuration renders seconds as "m:ss", or "h:mm:ss" from one hour up.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
