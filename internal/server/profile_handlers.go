package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/users"
)

const maxProfilePictureBytes = 5 << 20

type profileFieldPayload struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	claims, _ := sessionFrom(c)
	profile, err := h.users.GetProfile(c.Request.Context(), claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	claims, _ := sessionFrom(c)
	var request profileFieldPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Field) == "" {
		badRequest(c, "invalid_request")
		return
	}
	profile, err := h.users.UpdateProfileField(c.Request.Context(), claims.UserID, users.ProfileField(request.Field), request.Value)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleProfilePicture(c *gin.Context) {
	claims, _ := sessionFrom(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxProfilePictureBytes+(1<<20))
	header, err := c.FormFile("picture")
	if err != nil {
		h.writeFormError(c, err)
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		badRequest(c, "invalid_image")
		return
	}
	if header.Size > maxProfilePictureBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image_too_large"})
		return
	}
	file, err := header.Open()
	if err != nil {
		badRequest(c, "invalid_request")
		return
	}
	defer file.Close()

	url, err := h.media.Upload(c.Request.Context(), media.Asset{
		Kind:        media.AssetImage,
		Filename:    header.Filename,
		ContentType: contentType,
		Body:        file,
		Size:        header.Size,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	profile, err := h.users.UpdateProfileField(c.Request.Context(), claims.UserID, users.ProfileFieldProfilePicture, url)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handlePublicProfile(c *gin.Context) {
	profile, err := h.users.GetPublicProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleUserVideos(c *gin.Context) {
	list, err := h.videos.ListByUploader(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": list})
}

func (h *httpHandler) writeFormError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
		return
	}
	badRequest(c, "invalid_request")
}
