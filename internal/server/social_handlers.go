package server

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/render"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/social"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/store"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/videos"
)

type commentRequestPayload struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type commentsResponsePayload struct {
	Comments []store.Comment `json:"comments"`
	Count    int             `json:"count"`
}

type counterResponsePayload struct {
	Path  string `json:"path"`
	Value int64  `json:"value"`
}

func (h *httpHandler) handleRecordView(c *gin.Context) {
	videoID, ok := entityParam(c)
	if !ok {
		return
	}
	uploaderID, err := h.uploaderOf(c, videoID)
	if err != nil && !errors.Is(err, videos.ErrNotFound) {
		h.logger.Warn("view recorded without uploader credit", zap.String("video_id", videoID.String()), zap.Error(err))
	}
	result, err := h.social.RecordView(c.Request.Context(), videoID, uploaderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleInteractions(c *gin.Context) {
	claims, _ := sessionFrom(c)
	videoID, ok := entityParam(c)
	if !ok {
		return
	}
	userID, err := store.NewEntityID(claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	var channelID store.EntityID
	if raw := c.Query("channel"); raw != "" {
		channelID, err = store.NewEntityID(raw)
	} else {
		channelID, err = h.uploaderOf(c, videoID)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	interactions, err := h.social.Interactions(c.Request.Context(), videoID, channelID, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, interactions)
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	h.toggleMembership(c, social.MembershipLike)
}

func (h *httpHandler) handleToggleSubscription(c *gin.Context) {
	h.toggleMembership(c, social.MembershipSubscription)
}

func (h *httpHandler) handleSetLike(present bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.setMembership(c, social.MembershipLike, present)
	}
}

func (h *httpHandler) handleSetSubscription(present bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		h.setMembership(c, social.MembershipSubscription, present)
	}
}

func (h *httpHandler) toggleMembership(c *gin.Context, kind social.MembershipKind) {
	target, userID, ok := h.membershipRequest(c, kind)
	if !ok {
		return
	}
	result, err := h.social.ToggleMembership(c.Request.Context(), target, userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) setMembership(c *gin.Context, kind social.MembershipKind, present bool) {
	target, userID, ok := h.membershipRequest(c, kind)
	if !ok {
		return
	}
	result, err := h.social.SetMembership(c.Request.Context(), target, userID, present)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) membershipRequest(c *gin.Context, kind social.MembershipKind) (social.MembershipTarget, store.EntityID, bool) {
	claims, _ := sessionFrom(c)
	entityID, ok := entityParam(c)
	if !ok {
		return social.MembershipTarget{}, "", false
	}
	userID, err := store.NewEntityID(claims.UserID)
	if err != nil {
		h.writeError(c, err)
		return social.MembershipTarget{}, "", false
	}
	return social.MembershipTarget{Kind: kind, EntityID: entityID}, userID, true
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	videoID, ok := entityParam(c)
	if !ok {
		return
	}
	comments, err := h.social.Comments(c.Request.Context(), videoID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, commentsResponsePayload{Comments: comments, Count: len(comments)})
}

func (h *httpHandler) handleCommentsFragment(c *gin.Context) {
	videoID, ok := entityParam(c)
	if !ok {
		return
	}
	comments, err := h.social.Comments(c.Request.Context(), videoID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := render.CommentFeed(&buf, comments); err != nil {
		h.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	claims, _ := sessionFrom(c)
	videoID, ok := entityParam(c)
	if !ok {
		return
	}
	var request commentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	comment, err := h.social.AddComment(c.Request.Context(), videoID, social.CommentInput{
		AuthorID:        claims.UserID,
		AuthorName:      displayNameOf(claims),
		Text:            request.Text,
		CreatedAtMillis: request.Timestamp,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

func (h *httpHandler) handleReadCounter(c *gin.Context) {
	path, err := store.ParsePath(c.Query("path"))
	if err != nil {
		badRequest(c, "invalid_path")
		return
	}
	value, err := h.social.Counter(c.Request.Context(), path)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, counterResponsePayload{Path: path.String(), Value: value})
}

// uploaderOf resolves the channel a video belongs to.
func (h *httpHandler) uploaderOf(c *gin.Context, videoID store.EntityID) (store.EntityID, error) {
	details, err := h.videos.Get(c.Request.Context(), videoID.String())
	if err != nil {
		return "", err
	}
	return store.NewEntityID(details.UploaderID)
}

func entityParam(c *gin.Context) (store.EntityID, bool) {
	id, err := store.NewEntityID(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid_id")
		return "", false
	}
	return id, true
}
