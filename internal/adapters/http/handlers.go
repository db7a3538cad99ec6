package http

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stagehall/stagehall/internal/auth"
	"github.com/stagehall/stagehall/internal/core"
	"github.com/stagehall/stagehall/internal/domain"
	"github.com/stagehall/stagehall/internal/gate"
	"github.com/stagehall/stagehall/internal/store/attach"
	"github.com/stagehall/stagehall/internal/store/status"
)

type Handlers struct {
	Verifier    *auth.Verifier
	Gate        *gate.Gate
	Registry    *core.Registry
	Attachments attach.Store
	Status      status.Store
	MaxBytes    int64
}

type uploadRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	ContentType string `json:"contentType"`
	FileContent string `json:"fileContent" binding:"required"`
}

// UploadAttachment accepts base64 file content out of band and returns
// the reference a chat message can embed. The caller must currently be
// a member of the event's room.
func (h *Handlers) UploadAttachment(c *gin.Context) {
	eventID := domain.EventID(c.Param("id"))
	identity := identityFrom(c)

	var req uploadRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload request"})
		return
	}

	if !h.isRoomMember(eventID, identity.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this event's room"})
		return
	}

	// Cheap pre-decode ceiling check; base64 inflates by 4/3.
	if int64(len(req.FileContent))/4*3 > h.MaxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment exceeds size limit"})
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.FileContent)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileContent is not valid base64"})
		return
	}
	if int64(len(data)) > h.MaxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "attachment exceeds size limit"})
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	ref, err := h.Attachments.Put(c.Request.Context(), eventID, req.FileName, contentType, data)
	if err != nil {
		log.Error().Err(err).Str("module", "http").Str("event", string(eventID)).Msg("attachment store failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store attachment"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachmentRef": ref})
}

// DownloadAttachment serves raw bytes. Members pass directly; anyone
// else gets the access gate re-checked, so payment-gated events stay
// gated even for direct fetches.
func (h *Handlers) DownloadAttachment(c *gin.Context) {
	eventID := domain.EventID(c.Param("id"))
	name := c.Param("name")
	identity := identityFrom(c)

	if !h.isRoomMember(eventID, identity.UserID) {
		if _, err := h.Gate.CanJoinRoom(c.Request.Context(), identity.UserID, eventID); err != nil {
			c.JSON(gateStatus(err), gin.H{"error": err.Error()})
			return
		}
	}

	data, ref, err := h.Attachments.Get(c.Request.Context(), eventID, name)
	if err != nil {
		if errors.Is(err, attach.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		log.Error().Err(err).Str("module", "http").Str("event", string(eventID)).Msg("attachment fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch attachment"})
		return
	}
	c.Data(http.StatusOK, ref.ContentType, data)
}

// StartLivestream lets the organizer flip an event live over REST; the
// room enforces the organizer check and notifies connected members.
func (h *Handlers) StartLivestream(c *gin.Context) {
	eventID := domain.EventID(c.Param("id"))
	identity := identityFrom(c)

	room, err := h.Registry.GetOrCreate(c.Request.Context(), eventID)
	if err != nil {
		c.JSON(registryStatus(err), gin.H{"error": err.Error()})
		return
	}
	if err := room.StartBroadcast(identity.UserID); err != nil {
		c.JSON(roomStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"live": true, "broadcaster": identity.UserID})
}

func (h *Handlers) StopLivestream(c *gin.Context) {
	eventID := domain.EventID(c.Param("id"))
	identity := identityFrom(c)

	room, ok := h.Registry.Lookup(eventID)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no broadcast is live"})
		return
	}
	if err := room.StopBroadcast(identity.UserID); err != nil {
		c.JSON(roomStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"live": false})
}

func (h *Handlers) LivestreamStatus(c *gin.Context) {
	eventID := domain.EventID(c.Param("id"))
	ls, err := h.Status.Get(c.Request.Context(), eventID)
	if err != nil {
		log.Error().Err(err).Str("module", "http").Str("event", string(eventID)).Msg("status read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read livestream status"})
		return
	}
	c.JSON(http.StatusOK, ls)
}

// EndEvent is the organizer's event-ended signal; the room moves to
// Ended and the registry reaps it on the next sweep.
func (h *Handlers) EndEvent(c *gin.Context) {
	eventID := domain.EventID(c.Param("id"))
	identity := identityFrom(c)

	room, ok := h.Registry.Lookup(eventID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active room for this event"})
		return
	}
	if err := room.EndEvent(identity.UserID); err != nil {
		c.JSON(roomStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Registry.Snapshot()})
}

func (h *Handlers) isRoomMember(eventID domain.EventID, userID domain.UserID) bool {
	room, ok := h.Registry.Lookup(eventID)
	return ok && room.HasMember(userID)
}

func gateStatus(err error) int {
	switch {
	case errors.Is(err, gate.ErrPaymentRequired):
		return http.StatusPaymentRequired
	case errors.Is(err, gate.ErrUnknownEvent):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func registryStatus(err error) int {
	if errors.Is(err, core.ErrUnknownEvent) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func roomStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrNotOrganizer), errors.Is(err, core.ErrNotBroadcaster):
		return http.StatusForbidden
	case errors.Is(err, core.ErrAlreadyLive), errors.Is(err, core.ErrNoBroadcast):
		return http.StatusConflict
	case errors.Is(err, core.ErrRoomClosed):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}
