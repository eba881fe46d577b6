package watch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/render"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

// Snapshot is one "value" event of a live subscription.
type Snapshot struct {
	Path      string          `json:"path"`
	Exists    bool            `json:"exists"`
	Value     json.RawMessage `json:"value"`
	Timestamp int64           `json:"timestamp"`
}

// CounterView shows the latest pushed value of a counter. Absent counters show 0.
type CounterView struct {
	mu       sync.Mutex
	value    int64
	onChange func(int64)
}

// NewCounterView builds a view. onChange may be nil.
func NewCounterView(onChange func(int64)) *CounterView {
	return &CounterView{onChange: onChange}
}

// Apply replaces the displayed number with the snapshot's value.
func (v *CounterView) Apply(snapshot Snapshot) error {
	var value int64
	if snapshot.Exists && len(snapshot.Value) > 0 {
		if err := json.Unmarshal(snapshot.Value, &value); err != nil {
			return fmt.Errorf("decode counter %s: %w", snapshot.Path, err)
		}
	}
	v.mu.Lock()
	v.value = value
	onChange := v.onChange
	v.mu.Unlock()
	if onChange != nil {
		onChange(value)
	}
	return nil
}

// Value returns the displayed number.
func (v *CounterView) Value() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value
}

// FeedView holds the comment list rebuilt from each pushed snapshot.
type FeedView struct {
	mu       sync.Mutex
	comments []store.Comment
	onChange func([]store.Comment)
}

// NewFeedView builds a view. onChange may be nil.
func NewFeedView(onChange func([]store.Comment)) *FeedView {
	return &FeedView{onChange: onChange}
}

// Apply discards the current list and replaces it with the snapshot's,
// newest first with ties broken by insertion order, latest first.
func (v *FeedView) Apply(snapshot Snapshot) error {
	var comments []store.Comment
	if snapshot.Exists && len(snapshot.Value) > 0 {
		if err := json.Unmarshal(snapshot.Value, &comments); err != nil {
			return fmt.Errorf("decode feed %s: %w", snapshot.Path, err)
		}
	}
	SortComments(comments)

	v.mu.Lock()
	v.comments = comments
	onChange := v.onChange
	v.mu.Unlock()
	if onChange != nil {
		onChange(append([]store.Comment(nil), comments...))
	}
	return nil
}

// Comments returns a copy of the displayed list.
func (v *FeedView) Comments() []store.Comment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]store.Comment(nil), v.comments...)
}

// Count is the number shown next to the comment heading.
func (v *FeedView) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.comments)
}

// Render writes the escaped comment list.
func (v *FeedView) Render(w io.Writer) error {
	return render.CommentFeed(w, v.Comments())
}

// SortComments orders by timestamp descending, then sequence descending.
func SortComments(comments []store.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		if comments[i].CreatedAtMillis != comments[j].CreatedAtMillis {
			return comments[i].CreatedAtMillis > comments[j].CreatedAtMillis
		}
		return comments[i].Sequence > comments[j].Sequence
	})
}
