package watch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

var (
	errMissingRemote  = errors.New("watch: remote is required")
	errMissingSession = errors.New("watch: session is required")
)

// PageConfig wires a watch page to its API and viewer session.
type PageConfig struct {
	VideoID string
	// ChannelID is the uploader; looked up from the video when empty.
	ChannelID string
	Remote    Remote
	Session   *Session
	Logger    *zap.Logger
	Clock     func() time.Time
	// OnNotice receives user-facing messages such as failed actions. It may be
	// called from the page's live update goroutines.
	OnNotice func(string)
}

// Page is one open watch page. Its buttons follow the viewer's session and its
// counters follow live subscriptions until Close.
type Page struct {
	videoID   store.EntityID
	channelID store.EntityID
	remote    Remote
	session   *Session
	logger    *zap.Logger
	clock     func() time.Time
	onNotice  func(string)

	like            *MembershipToggle
	subscription    *MembershipToggle
	likeCount       *CounterView
	subscriberCount *CounterView
	comments        *FeedView

	mu    sync.Mutex
	views int64

	cancel      context.CancelFunc
	group       *errgroup.Group
	unsubscribe func()
	closeOnce   sync.Once
}

// Open records one view and starts the page's live subscriptions.
func Open(ctx context.Context, cfg PageConfig) (*Page, error) {
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Session == nil {
		return nil, errMissingSession
	}
	videoID, err := store.NewEntityID(cfg.VideoID)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	rawChannel := strings.TrimSpace(cfg.ChannelID)
	if rawChannel == "" {
		info, err := cfg.Remote.Video(ctx, videoID.String())
		if err != nil {
			return nil, err
		}
		rawChannel = info.UploaderID
	}
	channelID, err := store.NewEntityID(rawChannel)
	if err != nil {
		return nil, err
	}

	page := &Page{
		videoID:   videoID,
		channelID: channelID,
		remote:    cfg.Remote,
		session:   cfg.Session,
		logger:    logger,
		clock:     clock,
		onNotice:  cfg.OnNotice,
	}
	page.like = NewMembershipToggle(cfg.Session, func(ctx context.Context, present bool) (MembershipResult, error) {
		return page.remote.SetLike(ctx, page.videoID.String(), present)
	}, nil)
	page.subscription = NewMembershipToggle(cfg.Session, func(ctx context.Context, present bool) (MembershipResult, error) {
		return page.remote.SetSubscription(ctx, page.channelID.String(), present)
	}, nil)
	page.likeCount = NewCounterView(page.like.SetCount)
	page.subscriberCount = NewCounterView(page.subscription.SetCount)
	page.comments = NewFeedView(nil)

	views, err := page.remote.RecordView(ctx, videoID.String())
	if err != nil {
		page.notice("Could not record view", err)
	} else {
		page.setViews(views)
	}

	liveCtx, cancel := context.WithCancel(context.Background())
	page.cancel = cancel
	page.group, liveCtx = errgroup.WithContext(liveCtx)

	page.follow(liveCtx, store.VideoLikeCountPath(videoID), page.likeCount.Apply)
	page.follow(liveCtx, store.ChannelSubscriberCountPath(channelID), page.subscriberCount.Apply)
	page.follow(liveCtx, store.VideoCommentsPath(videoID), page.comments.Apply)

	page.unsubscribe = cfg.Session.OnAuthStateChanged(func(state SessionState) {
		page.hydrate(liveCtx, state)
	})
	return page, nil
}

// follow opens a live subscription and applies every snapshot until the page closes.
// A failed open becomes a notice; the rest of the page keeps working.
func (p *Page) follow(liveCtx context.Context, path store.Path, apply func(Snapshot) error) {
	subscription, err := p.remote.Subscribe(liveCtx, path.String())
	if err != nil {
		p.notice("Live updates unavailable", err)
		return
	}
	p.group.Go(func() error {
		for snapshot := range subscription.Updates {
			if err := apply(snapshot); err != nil {
				p.logger.Warn("live snapshot ignored", zap.String("path", path.String()), zap.Error(err))
			}
		}
		// The last applied value stays on screen after a drop.
		if err := subscription.Err(); err != nil && liveCtx.Err() == nil {
			p.notice("Live updates unavailable", err)
		}
		return nil
	})
}

func (p *Page) hydrate(ctx context.Context, state SessionState) {
	if !state.IsLoggedIn {
		p.like.Hydrate(false)
		p.subscription.Hydrate(false)
		return
	}
	interactions, err := p.remote.Interactions(ctx, p.videoID.String(), p.channelID.String())
	if err != nil {
		p.notice("Could not load your likes", err)
		p.like.Hydrate(false)
		p.subscription.Hydrate(false)
		return
	}
	p.like.Hydrate(interactions.Liked)
	p.subscription.Hydrate(interactions.Subscribed)
}

// ClickLike toggles the viewer's like on the video.
func (p *Page) ClickLike(ctx context.Context) (ToggleView, error) {
	view, err := p.like.Click(ctx)
	if err != nil {
		p.notice("Could not update like", err)
	}
	return view, err
}

// ClickSubscribe toggles the viewer's subscription to the uploader.
func (p *Page) ClickSubscribe(ctx context.Context) (ToggleView, error) {
	view, err := p.subscription.Click(ctx)
	if err != nil {
		p.notice("Could not update subscription", err)
	}
	return view, err
}

// AddComment posts text as the signed-in viewer. Blank text is ignored.
// The comment appears through the live feed, not locally.
func (p *Page) AddComment(ctx context.Context, text string) error {
	if !p.session.State().IsLoggedIn {
		p.notice("", ErrLoginRequired)
		return ErrLoginRequired
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := p.remote.AddComment(ctx, p.videoID.String(), text, p.clock().UnixMilli()); err != nil {
		p.notice("Could not post comment", err)
		return err
	}
	return nil
}

// Like returns the like button state.
func (p *Page) Like() ToggleView {
	return p.like.View()
}

// Subscription returns the subscribe button state.
func (p *Page) Subscription() ToggleView {
	return p.subscription.View()
}

// Views is the view total returned when the page was opened.
func (p *Page) Views() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.views
}

// ChannelID is the uploader whose subscription the page toggles.
func (p *Page) ChannelID() string {
	return p.channelID.String()
}

// Comments is the live comment feed.
func (p *Page) Comments() *FeedView {
	return p.comments
}

// LikeCount is the live like counter.
func (p *Page) LikeCount() *CounterView {
	return p.likeCount
}

// SubscriberCount is the live subscriber counter.
func (p *Page) SubscriberCount() *CounterView {
	return p.subscriberCount
}

// Close stops the live subscriptions and detaches from the session.
func (p *Page) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.unsubscribe != nil {
			p.unsubscribe()
		}
		p.cancel()
		err = p.group.Wait()
	})
	return err
}

func (p *Page) setViews(views int64) {
	p.mu.Lock()
	p.views = views
	p.mu.Unlock()
}

func (p *Page) notice(message string, err error) {
	if errors.Is(err, ErrLoginRequired) {
		message = "Please log in first"
	} else {
		p.logger.Warn("watch page action failed", zap.String("video_id", p.videoID.String()), zap.String("notice", message), zap.Error(err))
	}
	if p.onNotice != nil {
		p.onNotice(message)
	}
}
