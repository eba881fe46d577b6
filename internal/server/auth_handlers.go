package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/users"
)

const tokenTypeBearer = "Bearer"

type signUpRequestPayload struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type oidcRequestPayload struct {
	IDToken string `json:"id_token"`
}

// sessionPayload is the auth state a page hydrates from.
type sessionPayload struct {
	IsLoggedIn      bool   `json:"isLoggedIn"`
	CurrentUserID   string `json:"currentUserId,omitempty"`
	CurrentUserName string `json:"currentUserName"`
}

type authResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	Session     sessionPayload `json:"session"`
}

func anonymousSession() sessionPayload {
	return sessionPayload{CurrentUserName: "Anonymous"}
}

func (h *httpHandler) handleSignUp(c *gin.Context) {
	var request signUpRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	account, err := h.users.SignUp(c.Request.Context(), users.SignUpInput{
		Name:     request.Name,
		Email:    request.Email,
		Password: request.Password,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.startSession(c, http.StatusCreated, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	account, err := h.users.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.startSession(c, http.StatusOK, account)
}

func (h *httpHandler) handleOIDCLogin(c *gin.Context) {
	if h.identityVerifier == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "oidc_disabled"})
		return
	}
	var request oidcRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		badRequest(c, "invalid_request")
		return
	}
	identity, err := h.identityVerifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("id token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	account, err := h.users.ResolveIdentity(c.Request.Context(), identity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.startSession(c, http.StatusOK, account)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.writeSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, anonymousSession())
}

func (h *httpHandler) handleSession(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingSessionToken) {
			h.logTokenFailure(err)
		}
		c.JSON(http.StatusOK, anonymousSession())
		return
	}
	c.JSON(http.StatusOK, sessionPayload{
		IsLoggedIn:      true,
		CurrentUserID:   claims.UserID,
		CurrentUserName: displayNameOf(claims),
	})
}

func (h *httpHandler) startSession(c *gin.Context, status int, account users.Account) {
	principal := auth.Principal{
		UserID:      account.UserID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
	}
	token, expiresIn, err := h.tokens.Issue(c.Request.Context(), principal)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.String("user_id", account.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	h.writeSessionCookie(c, token, int(expiresIn))
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   tokenTypeBearer,
		Session: sessionPayload{
			IsLoggedIn:      true,
			CurrentUserID:   account.UserID,
			CurrentUserName: displayNameOf(auth.SessionClaims{UserDisplayName: account.DisplayName, UserEmail: account.Email}),
		},
	})
}

func (h *httpHandler) writeSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), value, maxAge, "/", "", c.Request.TLS != nil, true)
}
