package watch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRemote struct {
	mu           sync.Mutex
	views        map[string]int64
	likes        map[string]bool
	likeCount    int64
	interactions Interactions
	setLikeErr   error
	comments     []string
	calls        []string
	streams      map[string]*fakeStream
	subscribeErr map[string]error
}

type fakeStream struct {
	values chan Snapshot
	drops  chan error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		views:        make(map[string]int64),
		likes:        make(map[string]bool),
		streams:      make(map[string]*fakeStream),
		subscribeErr: make(map[string]error),
	}
}

func (r *fakeRemote) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *fakeRemote) callCount(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, recorded := range r.calls {
		if recorded == call {
			count++
		}
	}
	return count
}

func (r *fakeRemote) Session(context.Context) (SessionState, error) {
	return AnonymousState(), nil
}

func (r *fakeRemote) Video(_ context.Context, videoID string) (VideoInfo, error) {
	r.record("video")
	return VideoInfo{VideoID: videoID, UploaderID: "uploader-1"}, nil
}

func (r *fakeRemote) Interactions(context.Context, string, string) (Interactions, error) {
	r.record("interactions")
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interactions, nil
}

func (r *fakeRemote) SetLike(_ context.Context, _ string, present bool) (MembershipResult, error) {
	r.record("like")
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setLikeErr != nil {
		return MembershipResult{}, r.setLikeErr
	}
	if present {
		r.likeCount++
	} else if r.likeCount > 0 {
		r.likeCount--
	}
	return MembershipResult{Present: present, Count: r.likeCount}, nil
}

func (r *fakeRemote) SetSubscription(_ context.Context, _ string, present bool) (MembershipResult, error) {
	r.record("subscription")
	return MembershipResult{Present: present, Count: 1}, nil
}

func (r *fakeRemote) RecordView(_ context.Context, videoID string) (int64, error) {
	r.record("view")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[videoID]++
	return r.views[videoID], nil
}

func (r *fakeRemote) AddComment(_ context.Context, _ string, text string, _ int64) error {
	r.record("comment")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.comments = append(r.comments, text)
	return nil
}

func (r *fakeRemote) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	r.record("subscribe")
	stream := &fakeStream{values: make(chan Snapshot, 4), drops: make(chan error, 1)}
	r.mu.Lock()
	err := r.subscribeErr[path]
	if err == nil {
		r.streams[path] = stream
	}
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	subscription := newSubscription()
	go func() {
		for {
			select {
			case <-ctx.Done():
				subscription.end(nil)
				return
			case err := <-stream.drops:
				subscription.end(err)
				return
			case snapshot := <-stream.values:
				select {
				case subscription.updates <- snapshot:
				case <-ctx.Done():
					subscription.end(nil)
					return
				}
			}
		}
	}()
	return subscription, nil
}

func (r *fakeRemote) stream(t *testing.T, path string) *fakeStream {
	t.Helper()
	r.mu.Lock()
	stream := r.streams[path]
	r.mu.Unlock()
	if stream == nil {
		t.Fatalf("no subscription for %s", path)
	}
	return stream
}

func (r *fakeRemote) push(t *testing.T, path string, value any) {
	t.Helper()
	encoded, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	r.stream(t, path).values <- Snapshot{Path: path, Exists: true, Value: encoded}
}

// drop ends the stream for path as a lost connection would.
func (r *fakeRemote) drop(t *testing.T, path string, err error) {
	t.Helper()
	r.stream(t, path).drops <- err
}

type noticeLog struct {
	mu       sync.Mutex
	messages []string
}

func (l *noticeLog) add(message string) {
	l.mu.Lock()
	l.messages = append(l.messages, message)
	l.mu.Unlock()
}

func (l *noticeLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func openPage(t *testing.T, remote Remote, session *Session, notices *noticeLog) *Page {
	t.Helper()
	page, err := Open(context.Background(), PageConfig{
		VideoID: "video-1",
		Remote:  remote,
		Session: session,
		OnNotice: func(message string) {
			if notices != nil {
				notices.add(message)
			}
		},
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	t.Cleanup(func() { _ = page.Close() })
	return page
}

func TestEachOpenRecordsOneView(t *testing.T) {
	remote := newFakeRemote()
	first := openPage(t, remote, NewSession(), nil)
	second := openPage(t, remote, NewSession(), nil)

	if first.Views() != 1 || second.Views() != 2 {
		t.Fatalf("expected views 1 then 2, got %d and %d", first.Views(), second.Views())
	}
	if remote.callCount("view") != 2 {
		t.Fatalf("expected two view writes, got %d", remote.callCount("view"))
	}
	if first.ChannelID() != "uploader-1" {
		t.Fatalf("expected channel from uploader, got %q", first.ChannelID())
	}
}

func TestAnonymousPageBlocksInteractions(t *testing.T) {
	remote := newFakeRemote()
	notices := &noticeLog{}
	page := openPage(t, remote, NewSession(), notices)

	if _, err := page.ClickLike(context.Background()); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if _, err := page.ClickSubscribe(context.Background()); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	if err := page.AddComment(context.Background(), "hello"); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected ErrLoginRequired, got %v", err)
	}
	for _, call := range []string{"like", "subscription", "comment", "interactions"} {
		if remote.callCount(call) != 0 {
			t.Fatalf("expected no %s calls, got %d", call, remote.callCount(call))
		}
	}
	if got := notices.all(); len(got) != 3 || got[0] != "Please log in first" {
		t.Fatalf("unexpected notices %v", got)
	}
}

func TestSignInHydratesButtonsAndSignOutClearsThem(t *testing.T) {
	remote := newFakeRemote()
	remote.interactions = Interactions{Liked: true, Subscribed: true}
	session := NewSession()
	page := openPage(t, remote, session, nil)
	if page.Like().Present {
		t.Fatalf("expected anonymous page to show not liked")
	}

	session.SetAuthState(SessionState{IsLoggedIn: true, CurrentUserID: "viewer-1", CurrentUserName: "Viewer"})
	if !page.Like().Present || !page.Subscription().Present {
		t.Fatalf("expected hydrated buttons, got %+v %+v", page.Like(), page.Subscription())
	}
	session.SetAuthState(AnonymousState())
	if page.Like().Present || page.Subscription().Present {
		t.Fatalf("expected cleared buttons after sign-out")
	}
}

func TestLiveSnapshotsDriveCountersAndFeed(t *testing.T) {
	remote := newFakeRemote()
	page := openPage(t, remote, signedIn(), nil)

	remote.push(t, "videos/video-1/likeCount", 12)
	remote.push(t, "channels/uploader-1/subscriberCount", 40)
	remote.push(t, "videos/video-1/comments", []map[string]any{
		{"seq": 1, "id": "c1", "userName": "Ana", "text": "old", "timestamp": 10},
		{"seq": 2, "id": "c2", "userName": "Bo", "text": "new", "timestamp": 20},
	})

	waitFor(t, func() bool {
		return page.LikeCount().Value() == 12 && page.SubscriberCount().Value() == 40 && page.Comments().Count() == 2
	})
	if page.Like().Count != 12 || page.Subscription().Count != 40 {
		t.Fatalf("expected buttons to show pushed counts, got %+v %+v", page.Like(), page.Subscription())
	}
	if page.Comments().Comments()[0].CommentID != "c2" {
		t.Fatalf("expected newest comment first")
	}
}

func TestFailedLikeRollsBackAndNotifies(t *testing.T) {
	remote := newFakeRemote()
	remote.setLikeErr = errors.New("503")
	notices := &noticeLog{}
	page := openPage(t, remote, signedIn(), notices)
	remote.push(t, "videos/video-1/likeCount", 5)
	waitFor(t, func() bool { return page.Like().Count == 5 })

	view, err := page.ClickLike(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	if view.Present || view.Count != 5 || view.State != ToggleRolledBack {
		t.Fatalf("expected rollback, got %+v", view)
	}
	if got := notices.all(); len(got) != 1 || got[0] != "Could not update like" {
		t.Fatalf("unexpected notices %v", got)
	}
}

func TestAddCommentIgnoresBlankText(t *testing.T) {
	remote := newFakeRemote()
	page := openPage(t, remote, signedIn(), nil)

	if err := page.AddComment(context.Background(), "   "); err != nil {
		t.Fatalf("expected blank comment to be ignored, got %v", err)
	}
	if err := page.AddComment(context.Background(), "  gg  "); err != nil {
		t.Fatalf("comment failed: %v", err)
	}
	if len(remote.comments) != 1 || remote.comments[0] != "gg" {
		t.Fatalf("unexpected comments %v", remote.comments)
	}
}

func TestCloseEndsLiveSubscriptions(t *testing.T) {
	remote := newFakeRemote()
	notices := &noticeLog{}
	page := openPage(t, remote, NewSession(), notices)
	if err := page.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := page.Close(); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if got := notices.all(); len(got) != 0 {
		t.Fatalf("expected closing to stay quiet, got %v", got)
	}
}

func TestLiveSubscribeFailureNotifies(t *testing.T) {
	remote := newFakeRemote()
	remote.subscribeErr["videos/video-1/comments"] = errors.New("connection refused")
	notices := &noticeLog{}
	page := openPage(t, remote, NewSession(), notices)

	if got := notices.all(); len(got) != 1 || got[0] != "Live updates unavailable" {
		t.Fatalf("unexpected notices %v", got)
	}
	remote.push(t, "videos/video-1/likeCount", 3)
	waitFor(t, func() bool { return page.LikeCount().Value() == 3 })
}

func TestDroppedLiveStreamNotifiesAndKeepsLastValue(t *testing.T) {
	remote := newFakeRemote()
	notices := &noticeLog{}
	page := openPage(t, remote, NewSession(), notices)

	remote.push(t, "videos/video-1/likeCount", 7)
	waitFor(t, func() bool { return page.LikeCount().Value() == 7 })
	remote.drop(t, "videos/video-1/likeCount", ErrStreamClosed)

	waitFor(t, func() bool { return len(notices.all()) == 1 })
	if got := notices.all(); got[0] != "Live updates unavailable" {
		t.Fatalf("unexpected notices %v", got)
	}
	if page.LikeCount().Value() != 7 {
		t.Fatalf("expected last value to stay, got %d", page.LikeCount().Value())
	}
}
