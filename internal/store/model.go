package store

// Counter stores the current value of a counter path.
type Counter struct {
	Path            string `gorm:"column:path;primaryKey;size:255;not null"`
	Value           int64  `gorm:"column:value;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Counter) TableName() string {
	return "counters"
}

// MembershipFlag marks userID as a member of a collection such as videos/{id}/likes.
// A missing row means "not a member"; there is no stored false.
type MembershipFlag struct {
	Collection      string `gorm:"column:collection;primaryKey;size:255;not null"`
	UserID          string `gorm:"column:user_id;primaryKey;size:190;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MembershipFlag) TableName() string {
	return "membership_flags"
}

// Comment is an immutable entry of a comment feed.
// Sequence records insertion order and breaks timestamp ties.
type Comment struct {
	Sequence        int64  `gorm:"column:seq;primaryKey;autoIncrement" json:"seq"`
	CommentID       string `gorm:"column:comment_id;size:64;not null;uniqueIndex" json:"id"`
	FeedPath        string `gorm:"column:feed_path;size:255;not null;index:idx_comments_feed_time,priority:1" json:"-"`
	AuthorID        string `gorm:"column:author_id;size:190;not null" json:"userId"`
	AuthorName      string `gorm:"column:author_name;size:320;not null" json:"userName"`
	Text            string `gorm:"column:text;type:text;not null" json:"text"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null;index:idx_comments_feed_time,priority:2" json:"timestamp"`
}

// TableName provides the explicit table binding for GORM.
func (Comment) TableName() string {
	return "comments"
}

// CommentDraft describes a comment to append.
// A zero CreatedAtMillis is replaced by the store clock.
type CommentDraft struct {
	AuthorID        string
	AuthorName      string
	Text            string
	CreatedAtMillis int64
}

// Models lists every table owned by the store, for schema migration.
func Models() []interface{} {
	return []interface{}{&Counter{}, &MembershipFlag{}, &Comment{}}
}
