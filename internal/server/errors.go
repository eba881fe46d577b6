package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/serviceerr"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/social"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/users"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Checked in order; the first match wins.
var errorMappings = []errorMapping{
	{target: users.ErrMissingField, status: http.StatusBadRequest, code: "missing_field"},
	{target: users.ErrInvalidEmail, status: http.StatusBadRequest, code: "invalid_email"},
	{target: users.ErrWeakPassword, status: http.StatusBadRequest, code: "weak_password"},
	{target: users.ErrEmailExists, status: http.StatusConflict, code: "email_exists"},
	{target: users.ErrInvalidCredentials, status: http.StatusUnauthorized, code: "invalid_credentials"},
	{target: users.ErrInvalidIdentity, status: http.StatusUnauthorized, code: "invalid_identity"},
	{target: users.ErrAccountNotFound, status: http.StatusNotFound, code: "account_not_found"},
	{target: users.ErrUnknownProfileField, status: http.StatusBadRequest, code: "unknown_profile_field"},
	{target: users.ErrInvalidProfileValue, status: http.StatusBadRequest, code: "invalid_profile_value"},
	{target: videos.ErrMissingField, status: http.StatusBadRequest, code: "missing_field"},
	{target: videos.ErrInvalidCategory, status: http.StatusBadRequest, code: "invalid_category"},
	{target: videos.ErrMissingMedia, status: http.StatusBadRequest, code: "missing_media"},
	{target: videos.ErrTitleTooLong, status: http.StatusBadRequest, code: "title_too_long"},
	{target: videos.ErrNotFound, status: http.StatusNotFound, code: "video_not_found"},
	{target: videos.ErrForbidden, status: http.StatusForbidden, code: "forbidden"},
	{target: media.ErrUploadFailed, status: http.StatusBadGateway, code: "upload_failed"},
	{target: media.ErrInvalidAsset, status: http.StatusBadRequest, code: "invalid_asset"},
	{target: social.ErrInvalidDelta, status: http.StatusBadRequest, code: "invalid_delta"},
	{target: store.ErrEmptyText, status: http.StatusBadRequest, code: "empty_comment"},
	{target: store.ErrTextTooLong, status: http.StatusBadRequest, code: "comment_too_long"},
	{target: store.ErrMissingAuthor, status: http.StatusBadRequest, code: "missing_author"},
	{target: store.ErrInvalidPath, status: http.StatusBadRequest, code: "invalid_path"},
	{target: store.ErrInvalidEntityID, status: http.StatusBadRequest, code: "invalid_id"},
	{target: store.ErrWrongPathKind, status: http.StatusBadRequest, code: "invalid_path"},
}

func (h *httpHandler) writeError(c *gin.Context, err error) {
	response := gin.H{}
	if code, ok := serviceerr.CodeOf(err); ok {
		response["code"] = code
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			response["error"] = mapping.code
			c.JSON(mapping.status, response)
			return
		}
	}
	h.logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("route", c.FullPath()),
		zap.Error(err))
	response["error"] = "internal_error"
	c.JSON(http.StatusInternalServerError, response)
}

func badRequest(c *gin.Context, code string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": code})
}
