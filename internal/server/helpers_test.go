package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/social"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/users"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "vyon_session"
)

type stubMedia struct {
	mu      sync.Mutex
	uploads []media.Asset
	err     error
}

func (m *stubMedia) Upload(_ context.Context, asset media.Asset) (string, error) {
	_, _ = io.ReadAll(asset.Body)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.uploads = append(m.uploads, asset)
	return fmt.Sprintf("https://cdn.example.com/%s/%s", asset.Kind, asset.Filename), nil
}

func (m *stubMedia) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

type stubIdentityVerifier struct {
	identity auth.ExternalIdentity
	err      error
}

func (v stubIdentityVerifier) Verify(context.Context, string) (auth.ExternalIdentity, error) {
	return v.identity, v.err
}

type testEnv struct {
	handler http.Handler
	store   *store.Store
	users   *users.Service
	videos  *videos.Service
	media   *stubMedia
	tokens  *auth.TokenIssuer
}

type envOption func(*Dependencies)

func withIdentityVerifier(verifier IdentityVerifier) envOption {
	return func(deps *Dependencies) {
		deps.IdentityVerifier = verifier
	}
}

func newTestEnv(t *testing.T, options ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:server_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
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

	models := append(append(store.Models(), users.Models()...), videos.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	idProvider := ids.NewUUIDProvider()
	socialStore, err := store.NewStore(store.StoreConfig{
		Database:          db,
		Dispatcher:        realtime.NewDispatcher(),
		IDProvider:        idProvider,
		MaxAdjustAttempts: 5,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	socialService, err := social.NewService(social.ServiceConfig{Store: socialStore})
	if err != nil {
		t.Fatalf("failed to create social service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database:     db,
		Counters:     socialStore,
		IDProvider:   idProvider,
		PasswordCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	uploads := &stubMedia{}
	videoService, err := videos.NewService(videos.ServiceConfig{
		Database:   db,
		Media:      uploads,
		Counters:   socialStore,
		IDProvider: idProvider,
	})
	if err != nil {
		t.Fatalf("failed to create video service: %v", err)
	}
	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "vyon-api",
		Audience:      "vyon-web",
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Audience:      "vyon-web",
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create session validator: %v", err)
	}

	deps := Dependencies{
		Users:             userService,
		Social:            socialService,
		Videos:            videoService,
		Media:             uploads,
		Tokens:            tokenIssuer,
		Sessions:          sessionValidator,
		HeartbeatInterval: time.Hour,
		Logger:            zap.NewNop(),
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return &testEnv{
		handler: handler,
		store:   socialStore,
		users:   userService,
		videos:  videoService,
		media:   uploads,
		tokens:  tokenIssuer,
	}
}

type signedInUser struct {
	UserID string
	Token  string
}

func (env *testEnv) signUp(t *testing.T, name, email string) signedInUser {
	t.Helper()
	recorder := env.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"name":     name,
		"email":    email,
		"password": "secret123",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", recorder.Code, recorder.Body.String())
	}
	var response authResponsePayload
	decodeBody(t, recorder, &response)
	return signedInUser{UserID: response.Session.CurrentUserID, Token: response.AccessToken}
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func (env *testEnv) createVideo(t *testing.T, uploader signedInUser) videos.Video {
	t.Helper()
	video, err := env.videos.Create(context.Background(), videos.Uploader{UserID: uploader.UserID, DisplayName: "Uploader"}, videos.Input{
		Title:       "Ace on Ascent",
		Description: "Five kills",
		Category:    string(videos.CategoryValorant),
		Video:       &media.Asset{Filename: "clip.mp4", Body: strings.NewReader("v")},
		Thumbnail:   &media.Asset{Filename: "thumb.png", Body: strings.NewReader("t")},
	})
	if err != nil {
		t.Fatalf("failed to create video: %v", err)
	}
	return video
}

func mustCounterPath(t *testing.T, raw string) store.Path {
	t.Helper()
	path, err := store.ParsePath(raw)
	if err != nil {
		t.Fatalf("invalid path %q: %v", raw, err)
	}
	return path
}
