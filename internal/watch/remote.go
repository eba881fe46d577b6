package watch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

const (
	liveEventValue     = "value"
	maxLiveEventBytes  = 4 << 20
	defaultScanBufSize = 64 << 10
)

var (
	errMissingBaseURL = errors.New("watch: base url is required")
	// ErrStreamClosed is reported when the server ends a live stream the caller still wanted.
	ErrStreamClosed = errors.New("watch: live stream closed")
)

// Interactions are the viewer's membership flags for a video page.
type Interactions struct {
	Liked      bool `json:"liked"`
	Subscribed bool `json:"subscribed"`
}

// VideoInfo is the part of a video the watch page needs.
type VideoInfo struct {
	VideoID    string `json:"id"`
	Title      string `json:"title"`
	UploaderID string `json:"uploaderId"`
	Views      int64  `json:"views"`
	Likes      int64  `json:"likes"`
}

// Remote is the API surface the watch page talks to.
type Remote interface {
	SessionSource
	Video(ctx context.Context, videoID string) (VideoInfo, error)
	Interactions(ctx context.Context, videoID, channelID string) (Interactions, error)
	SetLike(ctx context.Context, videoID string, present bool) (MembershipResult, error)
	SetSubscription(ctx context.Context, channelID string, present bool) (MembershipResult, error)
	RecordView(ctx context.Context, videoID string) (int64, error)
	AddComment(ctx context.Context, videoID, text string, timestampMillis int64) error
	Subscribe(ctx context.Context, path string) (*Subscription, error)
}

// Subscription is one open live stream. Updates holds at most one pending
// snapshot and closes when the stream ends.
type Subscription struct {
	Updates <-chan Snapshot

	updates chan Snapshot
	err     error
}

func newSubscription() *Subscription {
	updates := make(chan Snapshot, 1)
	return &Subscription{Updates: updates, updates: updates}
}

// Err reports why Updates closed: nil when the caller's context ended the
// stream, otherwise the failure. It is only meaningful once Updates is closed.
func (s *Subscription) Err() error {
	return s.err
}

func (s *Subscription) end(err error) {
	s.err = err
	close(s.updates)
}

// RemoteError is a non-2xx API response.
type RemoteError struct {
	StatusCode  int
	Code        string
	ServiceCode string
}

func (e *RemoteError) Error() string {
	if e.ServiceCode != "" {
		return fmt.Sprintf("watch: api returned %d %s (%s)", e.StatusCode, e.Code, e.ServiceCode)
	}
	return fmt.Sprintf("watch: api returned %d %s", e.StatusCode, e.Code)
}

// HTTPRemote talks to the Vyon API with a bearer session token.
type HTTPRemote struct {
	baseURL *url.URL
	client  *http.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPRemote builds a client for the API at baseURL. A nil client uses http.DefaultClient.
func NewHTTPRemote(baseURL string, client *http.Client) (*HTTPRemote, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errMissingBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("watch: invalid base url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRemote{baseURL: parsed, client: client}, nil
}

// SetToken replaces the bearer token; empty signs the client out.
func (r *HTTPRemote) SetToken(token string) {
	r.mu.Lock()
	r.token = token
	r.mu.Unlock()
}

type authResponse struct {
	AccessToken string       `json:"access_token"`
	Session     SessionState `json:"session"`
}

// SignUp creates an account and keeps its session token.
func (r *HTTPRemote) SignUp(ctx context.Context, name, email, password string) (SessionState, error) {
	var response authResponse
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := r.do(ctx, http.MethodPost, r.endpoint("auth", "signup"), nil, body, &response); err != nil {
		return AnonymousState(), err
	}
	r.SetToken(response.AccessToken)
	return response.Session, nil
}

// SignIn authenticates and keeps the session token.
func (r *HTTPRemote) SignIn(ctx context.Context, email, password string) (SessionState, error) {
	var response authResponse
	body := map[string]string{"email": email, "password": password}
	if err := r.do(ctx, http.MethodPost, r.endpoint("auth", "login"), nil, body, &response); err != nil {
		return AnonymousState(), err
	}
	r.SetToken(response.AccessToken)
	return response.Session, nil
}

// SignOut drops the session token.
func (r *HTTPRemote) SignOut(ctx context.Context) error {
	r.SetToken("")
	return r.do(ctx, http.MethodPost, r.endpoint("auth", "logout"), nil, nil, nil)
}

func (r *HTTPRemote) Session(ctx context.Context) (SessionState, error) {
	var state SessionState
	if err := r.do(ctx, http.MethodGet, r.endpoint("auth", "session"), nil, nil, &state); err != nil {
		return AnonymousState(), err
	}
	return state, nil
}

func (r *HTTPRemote) Video(ctx context.Context, videoID string) (VideoInfo, error) {
	var info VideoInfo
	err := r.do(ctx, http.MethodGet, r.endpoint("videos", videoID), nil, nil, &info)
	return info, err
}

func (r *HTTPRemote) Interactions(ctx context.Context, videoID, channelID string) (Interactions, error) {
	query := url.Values{}
	if channelID != "" {
		query.Set("channel", channelID)
	}
	var interactions Interactions
	err := r.do(ctx, http.MethodGet, r.endpoint("videos", videoID, "interactions"), query, nil, &interactions)
	return interactions, err
}

func (r *HTTPRemote) SetLike(ctx context.Context, videoID string, present bool) (MembershipResult, error) {
	return r.setMembership(ctx, r.endpoint("videos", videoID, "like"), present)
}

func (r *HTTPRemote) SetSubscription(ctx context.Context, channelID string, present bool) (MembershipResult, error) {
	return r.setMembership(ctx, r.endpoint("channels", channelID, "subscription"), present)
}

func (r *HTTPRemote) setMembership(ctx context.Context, target *url.URL, present bool) (MembershipResult, error) {
	method := http.MethodDelete
	if present {
		method = http.MethodPut
	}
	var result MembershipResult
	err := r.do(ctx, method, target, nil, nil, &result)
	return result, err
}

func (r *HTTPRemote) RecordView(ctx context.Context, videoID string) (int64, error) {
	var result struct {
		Views int64 `json:"views"`
	}
	err := r.do(ctx, http.MethodPost, r.endpoint("videos", videoID, "views"), nil, nil, &result)
	return result.Views, err
}

func (r *HTTPRemote) AddComment(ctx context.Context, videoID, text string, timestampMillis int64) error {
	body := map[string]any{"text": text, "timestamp": timestampMillis}
	return r.do(ctx, http.MethodPost, r.endpoint("videos", videoID, "comments"), nil, body, nil)
}

// Subscribe opens the live stream for path. The stream runs until ctx ends or
// the connection drops; Err on the returned Subscription tells the two apart.
func (r *HTTPRemote) Subscribe(ctx context.Context, path string) (*Subscription, error) {
	request, err := r.newRequest(ctx, http.MethodGet, r.endpoint("live"), url.Values{"path": {path}}, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "text/event-stream")
	response, err := r.client.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		defer response.Body.Close()
		return nil, decodeRemoteError(response)
	}

	subscription := newSubscription()
	go func() {
		defer response.Body.Close()
		err := readEvents(response.Body, func(event, data string) bool {
			if event != liveEventValue {
				return true
			}
			var snapshot Snapshot
			if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
				return true
			}
			return deliverLatest(ctx, subscription.updates, snapshot)
		})
		switch {
		case ctx.Err() != nil:
			err = nil
		case err == nil:
			err = fmt.Errorf("%w: %s", ErrStreamClosed, path)
		default:
			err = fmt.Errorf("%w: %s: %v", ErrStreamClosed, path, err)
		}
		subscription.end(err)
	}()
	return subscription, nil
}

func deliverLatest(ctx context.Context, updates chan Snapshot, snapshot Snapshot) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case updates <- snapshot:
			return true
		default:
			select {
			case <-updates:
			default:
			}
		}
	}
}

// readEvents parses a text/event-stream body, calling handle once per event
// until it returns false or the body ends.
func readEvents(body io.Reader, handle func(event, data string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, defaultScanBufSize), maxLiveEventBytes)
	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" || len(data) > 0 {
				if !handle(event, strings.Join(data, "\n")) {
					return nil
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}

func (r *HTTPRemote) do(ctx context.Context, method string, target *url.URL, query url.Values, body, out any) error {
	request, err := r.newRequest(ctx, method, target, query, body)
	if err != nil {
		return err
	}
	response, err := r.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeRemoteError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("watch: decode %s %s: %w", method, target.Path, err)
	}
	return nil
}

// endpoint appends unescaped path segments to the base URL. Each segment is
// escaped exactly once, so ids reach the server unchanged.
func (r *HTTPRemote) endpoint(segments ...string) *url.URL {
	target := *r.baseURL
	escaped := make([]string, len(segments))
	for i, segment := range segments {
		escaped[i] = url.PathEscape(segment)
	}
	target.Path = strings.TrimRight(r.baseURL.Path, "/") + "/" + strings.Join(segments, "/")
	target.RawPath = strings.TrimRight(r.baseURL.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	return &target
}

func (r *HTTPRemote) newRequest(ctx context.Context, method string, target *url.URL, query url.Values, body any) (*http.Request, error) {
	address := *target
	if len(query) > 0 {
		address.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, address.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	r.mu.RLock()
	token := r.token
	r.mu.RUnlock()
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return request, nil
}

func decodeRemoteError(response *http.Response) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(io.LimitReader(response.Body, 1<<16)).Decode(&payload)
	return &RemoteError{StatusCode: response.StatusCode, Code: payload.Error, ServiceCode: payload.Code}
}
