package server

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/media"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/render"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
)

const (
	formFieldVideo     = "video"
	formFieldThumbnail = "thumbnail"
)

func (h *httpHandler) handleListVideos(c *gin.Context) {
	filter := videos.ListFilter{
		Category: strings.TrimSpace(c.Query("category")),
		Search:   strings.TrimSpace(c.Query("q")),
	}
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			badRequest(c, "invalid_limit")
			return
		}
		filter.Limit = limit
	}
	list, err := h.videos.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": list, "categories": videos.Categories})
}

func (h *httpHandler) handleGetVideo(c *gin.Context) {
	details, err := h.videos.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *httpHandler) handleVideoCard(c *gin.Context) {
	details, err := h.videos.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := render.VideoCard(&buf, details, h.clock()); err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *httpHandler) handleCreateVideo(c *gin.Context) {
	claims, _ := sessionFrom(c)
	input, closeFiles, ok := h.readVideoForm(c)
	if !ok {
		return
	}
	defer closeFiles()

	video, err := h.videos.Create(c.Request.Context(), videos.Uploader{
		UserID:      claims.UserID,
		DisplayName: displayNameOf(claims),
	}, input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, video)
}

func (h *httpHandler) handleUpdateVideo(c *gin.Context) {
	claims, _ := sessionFrom(c)
	input, closeFiles, ok := h.readVideoForm(c)
	if !ok {
		return
	}
	defer closeFiles()

	video, err := h.videos.Update(c.Request.Context(), videos.Uploader{
		UserID:      claims.UserID,
		DisplayName: displayNameOf(claims),
	}, c.Param("id"), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, video)
}

func (h *httpHandler) handleDeleteVideo(c *gin.Context) {
	claims, _ := sessionFrom(c)
	err := h.videos.Delete(c.Request.Context(), videos.Uploader{UserID: claims.UserID}, c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// readVideoForm parses the multipart create/update form. On failure it has
// already written the response.
func (h *httpHandler) readVideoForm(c *gin.Context) (videos.Input, func(), bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		h.writeFormError(c, err)
		return videos.Input{}, func() {}, false
	}

	input := videos.Input{
		Title:       firstValue(form, "title"),
		Description: firstValue(form, "description"),
		Category:    firstValue(form, "category"),
	}
	if raw := firstValue(form, "duration_seconds"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds < 0 {
			badRequest(c, "invalid_duration")
			return videos.Input{}, func() {}, false
		}
		input.DurationSeconds = int64(seconds)
	}

	var files []multipart.File
	closeFiles := func() {
		for _, file := range files {
			_ = file.Close()
		}
	}
	open := func(field string, kind media.AssetKind) (*media.Asset, bool) {
		headers := form.File[field]
		if len(headers) == 0 {
			return nil, true
		}
		header := headers[0]
		file, err := header.Open()
		if err != nil {
			return nil, false
		}
		files = append(files, file)
		return &media.Asset{
			Kind:        kind,
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        file,
			Size:        header.Size,
		}, true
	}

	var opened bool
	if input.Video, opened = open(formFieldVideo, media.AssetVideo); !opened {
		closeFiles()
		badRequest(c, "invalid_request")
		return videos.Input{}, func() {}, false
	}
	if input.Thumbnail, opened = open(formFieldThumbnail, media.AssetImage); !opened {
		closeFiles()
		badRequest(c, "invalid_request")
		return videos.Input{}, func() {}, false
	}
	return input, closeFiles, true
}

func firstValue(form *multipart.Form, key string) string {
	values := form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
