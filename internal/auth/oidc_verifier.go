package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
)

const defaultOIDCProviderName = "oidc"

var (
	// ErrInvalidOIDCConfig indicates the verifier was configured without an issuer or client id.
	ErrInvalidOIDCConfig = errors.New("auth: invalid oidc verifier config")
	// ErrInvalidIDToken indicates the ID token failed verification.
	ErrInvalidIDToken = errors.New("auth: invalid id token")

	errMissingIDToken = errors.New("id token must not be empty")
	errMissingSubject = errors.New("token missing subject claim")
)

// ExternalIdentity is the verified identity carried by an OIDC ID token.
type ExternalIdentity struct {
	Provider    string
	Subject     string
	Email       string
	DisplayName string
	AvatarURL   string
}

// OIDCVerifierConfig bundles configuration required to instantiate an OIDCVerifier.
// KeySet is optional; when nil the issuer's discovery document supplies the keys.
type OIDCVerifierConfig struct {
	IssuerURL    string
	ClientID     string
	ProviderName string
	KeySet       oidc.KeySet
	Clock        func() time.Time
}

// OIDCVerifier verifies ID tokens issued by a single OpenID Connect provider.
type OIDCVerifier struct {
	verifier     *oidc.IDTokenVerifier
	providerName string
}

// NewOIDCVerifier constructs a verifier, contacting the issuer for discovery
// unless a key set is supplied.
func NewOIDCVerifier(ctx context.Context, cfg OIDCVerifierConfig) (*OIDCVerifier, error) {
	issuer := strings.TrimSpace(cfg.IssuerURL)
	clientID := strings.TrimSpace(cfg.ClientID)
	if issuer == "" || clientID == "" {
		return nil, ErrInvalidOIDCConfig
	}
	providerName := strings.TrimSpace(cfg.ProviderName)
	if providerName == "" {
		providerName = defaultOIDCProviderName
	}
	oidcConfig := &oidc.Config{ClientID: clientID, Now: cfg.Clock}

	var verifier *oidc.IDTokenVerifier
	if cfg.KeySet != nil {
		verifier = oidc.NewVerifier(issuer, cfg.KeySet, oidcConfig)
	} else {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("%w: discovery failed: %v", ErrInvalidOIDCConfig, err)
		}
		verifier = provider.Verifier(oidcConfig)
	}
	return &OIDCVerifier{verifier: verifier, providerName: providerName}, nil
}

// ProviderName returns the name identities from this verifier are stored under.
func (v *OIDCVerifier) ProviderName() string {
	return v.providerName
}

// Verify validates rawIDToken and returns the identity it asserts.
func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) (ExternalIdentity, error) {
	token := strings.TrimSpace(rawIDToken)
	if token == "" {
		return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, errMissingIDToken)
	}
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	var claims struct {
		Email             string `json:"email"`
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Picture           string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if strings.TrimSpace(idToken.Subject) == "" {
		return ExternalIdentity{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, errMissingSubject)
	}
	displayName := strings.TrimSpace(claims.Name)
	if displayName == "" {
		displayName = strings.TrimSpace(claims.PreferredUsername)
	}
	return ExternalIdentity{
		Provider:    v.providerName,
		Subject:     strings.TrimSpace(idToken.Subject),
		Email:       strings.TrimSpace(claims.Email),
		DisplayName: displayName,
		AvatarURL:   strings.TrimSpace(claims.Picture),
	}, nil
}
