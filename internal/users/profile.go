package users

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
)

// CounterReader reads profile statistics from the counter store.
type CounterReader interface {
	ReadCounter(ctx context.Context, path store.Path) (int64, error)
}

// ProfileField names a profile attribute that can be auto-saved individually.
type ProfileField string

const (
	ProfileFieldDisplayName    ProfileField = "displayName"
	ProfileFieldHandle         ProfileField = "handle"
	ProfileFieldBio            ProfileField = "bio"
	ProfileFieldLocation       ProfileField = "location"
	ProfileFieldProfilePicture ProfileField = "profilePicture"
)

var profileColumns = map[ProfileField]string{
	ProfileFieldDisplayName:    "display_name",
	ProfileFieldHandle:         "handle",
	ProfileFieldBio:            "bio",
	ProfileFieldLocation:       "location",
	ProfileFieldProfilePicture: "profile_picture",
}

// Stats are the counter-backed profile statistics.
type Stats struct {
	VideoCount    int64 `json:"videoCount"`
	FollowerCount int64 `json:"followerCount"`
	ViewCount     int64 `json:"viewCount"`
}

// Profile is the JSON view of an account.
type Profile struct {
	UserID         string `json:"uid"`
	Email          string `json:"email,omitempty"`
	DisplayName    string `json:"displayName"`
	Handle         string `json:"handle"`
	Bio            string `json:"bio"`
	ProfilePicture string `json:"profilePicture"`
	Location       string `json:"location"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
	LastLogin      int64  `json:"lastLogin,omitempty"`
	Stats
}

// GetProfile returns the owner's view of userID's profile.
func (s *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return s.profileOf(ctx, account, true)
}

// GetPublicProfile returns userID's profile without private fields.
func (s *Service) GetPublicProfile(ctx context.Context, userID string) (Profile, error) {
	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return s.profileOf(ctx, account, false)
}

// UpdateProfileField saves a single profile field and returns the updated profile.
func (s *Service) UpdateProfileField(ctx context.Context, userID string, field ProfileField, value string) (Profile, error) {
	column, ok := profileColumns[field]
	if !ok {
		return Profile{}, ErrUnknownProfileField
	}
	trimmed := normalize(value)
	switch field {
	case ProfileFieldDisplayName:
		if trimmed == "" {
			return Profile{}, ErrInvalidProfileValue
		}
	case ProfileFieldHandle:
		trimmed = strings.TrimPrefix(trimmed, "@")
		length := utf8.RuneCountInString(trimmed)
		if length < minHandleLength || length > maxHandleLength {
			return Profile{}, ErrInvalidProfileValue
		}
	}

	account, err := s.GetAccount(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	nowMillis := s.now().UTC().UnixMilli()
	if err := s.db.WithContext(ctx).Model(&Account{}).
		Where("user_id = ?", account.UserID).
		Updates(map[string]interface{}{
			column:          trimmed,
			"updated_at_ms": nowMillis,
		}).Error; err != nil {
		s.logError(opUpdateProfile, "update_failed", err,
			zap.String("user_id", account.UserID),
			zap.String("field", string(field)))
		return Profile{}, serviceerr.New(opUpdateProfile, "update_failed", err)
	}
	return s.GetProfile(ctx, account.UserID)
}

func (s *Service) profileOf(ctx context.Context, account Account, private bool) (Profile, error) {
	profile := Profile{
		UserID:         account.UserID,
		DisplayName:    account.DisplayName,
		Handle:         account.Handle,
		Bio:            account.Bio,
		ProfilePicture: account.ProfilePicture,
		Location:       account.Location,
		CreatedAt:      account.CreatedAtMillis,
		UpdatedAt:      account.UpdatedAtMillis,
	}
	if private {
		profile.Email = account.Email
		profile.LastLogin = account.LastLoginMillis
	}
	stats, err := s.stats(ctx, account.UserID)
	if err != nil {
		return Profile{}, err
	}
	profile.Stats = stats
	return profile, nil
}

func (s *Service) stats(ctx context.Context, userID string) (Stats, error) {
	if s.counters == nil {
		return Stats{}, nil
	}
	id, err := store.NewEntityID(userID)
	if err != nil {
		return Stats{}, serviceerr.New(opProfileStats, "invalid_user_id", err)
	}
	var stats Stats
	reads := []struct {
		path  store.Path
		value *int64
	}{
		{path: store.UserVideoCountPath(id), value: &stats.VideoCount},
		{path: store.ChannelSubscriberCountPath(id), value: &stats.FollowerCount},
		{path: store.UserViewCountPath(id), value: &stats.ViewCount},
	}
	for _, read := range reads {
		value, err := s.counters.ReadCounter(ctx, read.path)
		if err != nil {
			s.logError(opProfileStats, "counter_read_failed", err, zap.String("path", read.path.String()))
			return Stats{}, err
		}
		*read.value = value
	}
	return stats, nil
}
