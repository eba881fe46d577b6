// Package render produces the escaped HTML fragments served to the watch and
// profile pages. Every user-supplied string goes through html/template.
package render

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
)

const anonymousAuthor = "Anonymous"

// ErrRenderFailed wraps template execution failures.
var ErrRenderFailed = errors.New("render: template execution failed")

var fragments = template.Must(template.New("fragments").Funcs(template.FuncMap{
	"initial": authorInitial,
	"count":   FormatCount,
}).Parse(`
{{define "comments"}}<div class="comment-feed" data-count="{{len .Comments}}">
<span class="comment-count">{{len .Comments}}</span>
{{range .Comments}}<div class="comment" data-id="{{.CommentID}}">
<div class="comment-avatar">{{initial .AuthorName}}</div>
<div class="comment-body">
<p class="comment-author">{{.AuthorName}}</p>
<p class="comment-text">{{.Text}}</p>
</div>
</div>
{{end}}</div>{{end}}
{{define "video"}}<a class="video-card" href="/watch.html?v={{.VideoID}}">
<img src="{{.ThumbnailURL}}" alt="{{.Title}}">
<span class="video-duration">{{.Duration}}</span>
<p class="video-title">{{.Title}}</p>
<p class="video-description">{{.Description}}</p>
<p class="video-meta">{{.UploaderName}} · {{count .Views}} views · {{.Age}}</p>
</a>{{end}}
`))

type commentFeedData struct {
	Comments []store.Comment
}

type videoCardData struct {
	videos.Video
	Views int64
	Age   string
}

// CommentFeed writes the comment list as an HTML fragment in the order given.
// Authors without a name render as "Anonymous".
func CommentFeed(w io.Writer, comments []store.Comment) error {
	rows := make([]store.Comment, len(comments))
	for i, comment := range comments {
		if strings.TrimSpace(comment.AuthorName) == "" {
			comment.AuthorName = anonymousAuthor
		}
		rows[i] = comment
	}
	if err := fragments.ExecuteTemplate(w, "comments", commentFeedData{Comments: rows}); err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return nil
}

// VideoCard writes a single video summary card.
func VideoCard(w io.Writer, details videos.Details, now time.Time) error {
	data := videoCardData{
		Video: details.Video,
		Views: details.Views,
		Age:   FormatTimeAgo(details.Video.CreatedAtMillis, now),
	}
	if err := fragments.ExecuteTemplate(w, "video", data); err != nil {
		return fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return nil
}

func authorInitial(name string) string {
	for _, r := range strings.TrimSpace(name) {
		return strings.ToUpper(string(r))
	}
	return "A"
}

// FormatCount abbreviates large numbers: 1500 -> "1.5K", 2000000 -> "2M".
func FormatCount(value int64) string {
	switch {
	case value >= 1_000_000:
		return abbreviate(float64(value)/1_000_000) + "M"
	case value >= 1_000:
		return abbreviate(float64(value)/1_000) + "K"
	default:
		return strconv.FormatInt(value, 10)
	}
}

func abbreviate(value float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(value, 'f', 1, 64), ".0")
}

var timeUnits = []struct {
	name    string
	seconds int64
}{
	{"year", 31_536_000},
	{"month", 2_592_000},
	{"week", 604_800},
	{"day", 86_400},
	{"hour", 3_600},
	{"minute", 60},
}

// FormatTimeAgo renders a millisecond timestamp relative to now, for example
// "3 days ago". Zero renders as "Unknown".
func FormatTimeAgo(timestampMillis int64, now time.Time) string {
	if timestampMillis == 0 {
		return "Unknown"
	}
	elapsed := (now.UnixMilli() - timestampMillis) / 1000
	for _, unit := range timeUnits {
		if n := elapsed / unit.seconds; n >= 1 {
			if n == 1 {
				return fmt.Sprintf("1 %s ago", unit.name)
			}
			return fmt.Sprintf("%d %ss ago", n, unit.name)
		}
	}
	return "Just now"
}
