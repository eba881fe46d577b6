package users

import (
	"context"
	"errors"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/serviceerr"
)

const (
	minPasswordLength = 6
	minHandleLength   = 3
	maxHandleLength   = 64
	defaultBio        = "Welcome to my channel! 🎥"
	avatarBaseURL     = "https://ui-avatars.com/api/?name="
	avatarStyle       = "&size=120&background=00F5D4&color=121212"

	opServiceNew     = "users.service.new"
	opSignUp         = "users.sign_up"
	opSignIn         = "users.sign_in"
	opResolve        = "users.resolve_identity"
	opGetAccount     = "users.get_account"
	opUpdateProfile  = "users.update_profile"
	opProfileStats   = "users.profile_stats"
	opPasswordHash   = "users.password_hash"
	opIdentityUpsert = "users.identity_upsert"
)

var (
	// ErrMissingField indicates a required sign-up or sign-in field was blank.
	ErrMissingField = errors.New("users: required field missing")
	// ErrInvalidEmail indicates the email address did not parse.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrWeakPassword indicates the password is shorter than the minimum length.
	ErrWeakPassword = errors.New("users: weak password")
	// ErrEmailExists indicates another account already uses the email address.
	ErrEmailExists = errors.New("users: email already in use")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrAccountNotFound indicates no account exists for the user id.
	ErrAccountNotFound = errors.New("users: account not found")
	// ErrInvalidIdentity indicates the external identity did not contain a usable subject or email.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUnknownProfileField indicates an unsupported profile field name.
	ErrUnknownProfileField = errors.New("users: unknown profile field")
	// ErrInvalidProfileValue indicates a profile value failed validation.
	ErrInvalidProfileValue = errors.New("users: invalid profile value")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the account service.
type ServiceConfig struct {
	Database     *gorm.DB
	Counters     CounterReader
	IDProvider   ids.Provider
	Clock        func() time.Time
	Logger       *zap.Logger
	PasswordCost int
}

// SignUpInput carries a new account request.
type SignUpInput struct {
	Name     string
	Email    string
	Password string
}

// Service manages accounts, credentials and provider identities.
type Service struct {
	db           *gorm.DB
	counters     CounterReader
	idProvider   ids.Provider
	now          func() time.Time
	logger       *zap.Logger
	passwordCost int
	cache        sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
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
	cost := cfg.PasswordCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:           cfg.Database,
		counters:     cfg.Counters,
		idProvider:   cfg.IDProvider,
		now:          clock,
		logger:       logger,
		passwordCost: cost,
	}, nil
}

// SignUp creates an account with a default profile.
func (s *Service) SignUp(ctx context.Context, input SignUpInput) (Account, error) {
	name := normalize(input.Name)
	email := strings.ToLower(normalize(input.Email))
	if name == "" || email == "" || input.Password == "" {
		return Account{}, ErrMissingField
	}
	if !validEmail(email) {
		return Account{}, ErrInvalidEmail
	}
	if utf8.RuneCountInString(input.Password) < minPasswordLength {
		return Account{}, ErrWeakPassword
	}

	exists, err := s.emailTaken(ctx, email)
	if err != nil {
		s.logError(opSignUp, "account_lookup_failed", err)
		return Account{}, serviceerr.New(opSignUp, "account_lookup_failed", err)
	}
	if exists {
		return Account{}, ErrEmailExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), s.passwordCost)
	if err != nil {
		s.logError(opPasswordHash, "hash_failed", err)
		return Account{}, serviceerr.New(opPasswordHash, "hash_failed", err)
	}
	account, err := s.newAccount(email, name, "")
	if err != nil {
		return Account{}, err
	}
	account.PasswordHash = string(hash)
	account.LastLoginMillis = account.CreatedAtMillis

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if isUniqueViolation(err) {
			return Account{}, ErrEmailExists
		}
		s.logError(opSignUp, "account_insert_failed", err)
		return Account{}, serviceerr.New(opSignUp, "account_insert_failed", err)
	}
	return account, nil
}

// SignIn verifies credentials and records the login time.
func (s *Service) SignIn(ctx context.Context, email, password string) (Account, error) {
	normalizedEmail := strings.ToLower(normalize(email))
	if normalizedEmail == "" || password == "" {
		return Account{}, ErrMissingField
	}
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizedEmail).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(opSignIn, "account_lookup_failed", err)
		return Account{}, serviceerr.New(opSignIn, "account_lookup_failed", err)
	}
	if account.PasswordHash == "" {
		return Account{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return Account{}, ErrInvalidCredentials
	}

	nowMillis := s.now().UTC().UnixMilli()
	if err := s.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ?", account.UserID).
		Update("last_login_ms", nowMillis).Error; err != nil {
		s.logError(opSignIn, "last_login_update_failed", err, zap.String("user_id", account.UserID))
		return Account{}, serviceerr.New(opSignIn, "last_login_update_failed", err)
	}
	account.LastLoginMillis = nowMillis
	return account, nil
}

// ResolveIdentity returns the account for a verified external identity, linking
// it to an existing account with the same email or creating a new account.
func (s *Service) ResolveIdentity(ctx context.Context, identity auth.ExternalIdentity) (Account, error) {
	provider := normalize(identity.Provider)
	subject := normalize(identity.Subject)
	if provider == "" || subject == "" {
		return Account{}, ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if userID, ok := cached.(string); ok {
			account, err := s.GetAccount(ctx, userID)
			if err == nil {
				s.touchIdentity(ctx, provider, subject, identity)
				return account, nil
			}
			s.cache.Delete(cacheKey)
		}
	}

	var stored Identity
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&stored).Error
	switch {
	case err == nil:
		account, err := s.GetAccount(ctx, stored.UserID)
		if err != nil {
			return Account{}, err
		}
		s.touchIdentity(ctx, provider, subject, identity)
		s.cache.Store(cacheKey, account.UserID)
		return account, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		s.logError(opResolve, "identity_lookup_failed", err, zap.String("provider", provider))
		return Account{}, serviceerr.New(opResolve, "identity_lookup_failed", err)
	}

	email := strings.ToLower(normalize(identity.Email))
	if email == "" || !validEmail(email) {
		return Account{}, ErrInvalidIdentity
	}

	var account Account
	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account, err = s.newAccount(email, normalize(identity.DisplayName), normalize(identity.AvatarURL))
		if err != nil {
			return Account{}, err
		}
		account.LastLoginMillis = account.CreatedAtMillis
		if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
			s.logError(opResolve, "account_insert_failed", err, zap.String("provider", provider))
			return Account{}, serviceerr.New(opResolve, "account_insert_failed", err)
		}
	} else if err != nil {
		s.logError(opResolve, "account_lookup_failed", err, zap.String("provider", provider))
		return Account{}, serviceerr.New(opResolve, "account_lookup_failed", err)
	}

	link := Identity{
		Provider:    provider,
		Subject:     subject,
		UserID:      account.UserID,
		Email:       email,
		DisplayName: normalize(identity.DisplayName),
		AvatarURL:   normalize(identity.AvatarURL),
		LastSeenAt:  s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&link).Error; err != nil {
		s.logError(opIdentityUpsert, "identity_insert_failed", err, zap.String("provider", provider))
		return Account{}, serviceerr.New(opIdentityUpsert, "identity_insert_failed", err)
	}
	s.cache.Store(cacheKey, account.UserID)
	return account, nil
}

// GetAccount loads the account for userID.
func (s *Service) GetAccount(ctx context.Context, userID string) (Account, error) {
	id := normalize(userID)
	if id == "" {
		return Account{}, ErrAccountNotFound
	}
	var account Account
	err := s.db.WithContext(ctx).Where("user_id = ?", id).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		s.logError(opGetAccount, "query_failed", err, zap.String("user_id", id))
		return Account{}, serviceerr.New(opGetAccount, "query_failed", err)
	}
	return account, nil
}

func (s *Service) touchIdentity(ctx context.Context, provider, subject string, identity auth.ExternalIdentity) {
	updates := map[string]interface{}{"last_seen_at": s.now()}
	if email := normalize(identity.Email); email != "" {
		updates["user_email"] = email
	}
	if display := normalize(identity.DisplayName); display != "" {
		updates["user_display_name"] = display
	}
	if avatar := normalize(identity.AvatarURL); avatar != "" {
		updates["user_avatar_url"] = avatar
	}
	if err := s.db.WithContext(ctx).Model(&Identity{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Updates(updates).Error; err != nil {
		s.logger.Warn("identity refresh failed", zap.String("provider", provider), zap.Error(err))
	}
}

func (s *Service) newAccount(email, displayName, avatarURL string) (Account, error) {
	userID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSignUp, "id_generation_failed", err)
		return Account{}, serviceerr.New(opSignUp, "id_generation_failed", err)
	}
	localPart := email
	if at := strings.Index(email, "@"); at > 0 {
		localPart = email[:at]
	}
	if displayName == "" {
		displayName = localPart
	}
	if avatarURL == "" {
		avatarURL = defaultAvatarURL(localPart)
	}
	nowMillis := s.now().UTC().UnixMilli()
	return Account{
		UserID:          userID,
		Email:           email,
		DisplayName:     displayName,
		Handle:          deriveHandle(localPart),
		Bio:             defaultBio,
		ProfilePicture:  avatarURL,
		CreatedAtMillis: nowMillis,
		UpdatedAtMillis: nowMillis,
	}, nil
}

func (s *Service) emailTaken(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
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
	s.logger.Error("users service error", attrs...)
}

func validEmail(email string) bool {
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Address, email)
}

// deriveHandle lowercases value and keeps only ASCII letters and digits.
func deriveHandle(value string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(value) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
		}
	}
	handle := builder.String()
	if handle == "" {
		return "user"
	}
	if len(handle) > maxHandleLength {
		return handle[:maxHandleLength]
	}
	return handle
}

func defaultAvatarURL(name string) string {
	return avatarBaseURL + url.PathEscape(name) + avatarStyle
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint") || strings.Contains(message, "duplicate key")
}
