package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/rs/zerolog/log"
)

// AdminStore inserts rows. *database.PostgresDB satisfies it.
type AdminStore interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	InsertAnnouncement(ctx context.Context, a *models.Announcement) error
}

// Broadcaster publishes inserted rows on the real-time feed.
// *realtime.Hub satisfies it.
type Broadcaster interface {
	PublishNotification(ctx context.Context, n models.Notification) error
	PublishAnnouncement(ctx context.Context, a models.Announcement) error
}

// AdminHandler creates notifications and announcements. Each insert is
// followed by a change event so subscribed clients pick it up live.
type AdminHandler struct {
	store AdminStore
	feed  Broadcaster
}

// NewAdminHandler creates the admin endpoints.
func NewAdminHandler(store AdminStore, feed Broadcaster) *AdminHandler {
	return &AdminHandler{store: store, feed: feed}
}

type createNotificationRequest struct {
	StudentID uuid.UUID `json:"student_id" validate:"required"`
	Title     string    `json:"title" validate:"required,max=200"`
	Message   string    `json:"message" validate:"required,max=2000"`
	Icon      *string   `json:"icon,omitempty" validate:"omitempty,max=64"`
	Color     *string   `json:"color,omitempty" validate:"omitempty,max=32"`
	ActionURL *string   `json:"action_url,omitempty" validate:"omitempty,max=512"`
}

type createAnnouncementRequest struct {
	Title   string  `json:"title" validate:"required,max=200"`
	Message string  `json:"message" validate:"required,max=2000"`
	Icon    *string `json:"icon,omitempty" validate:"omitempty,max=64"`
	Color   *string `json:"color,omitempty" validate:"omitempty,max=32"`
}

// PublishResponse reports the stored row and whether its change event
// went out. A failed publish does not undo the insert; clients see the
// row on their next fetch.
type PublishResponse struct {
	Record    interface{} `json:"record"`
	Published bool        `json:"published"`
}

// CreateNotification stores a notification for one student and publishes
// it.
//
// Example request:
//
//	POST /api/v1/admin/notifications
//	X-Admin-Key: ...
//	{"student_id": "...", "title": "Fees", "message": "Second semester fees are due"}
//
// @Summary      Create a notification
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     AdminKey
// @Param        body  body  createNotificationRequest  true  "Notification"
// @Success      201  {object}  PublishResponse
// @Failure      400  {object}  utils.ErrorResponse  "Validation failed"
// @Failure      403  {object}  utils.ErrorResponse  "Invalid admin key"
// @Failure      500  {object}  utils.ErrorResponse
// @Router       /api/v1/admin/notifications [post]
func (h *AdminHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	n := &models.Notification{
		StudentID: req.StudentID,
		Title:     req.Title,
		Message:   req.Message,
		Icon:      req.Icon,
		Color:     req.Color,
		ActionURL: req.ActionURL,
	}
	if err := h.store.InsertNotification(r.Context(), n); err != nil {
		log.Error().Err(err).Str("student_id", req.StudentID.String()).Msg("Failed to insert notification")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to create notification")
		return
	}

	published := true
	if err := h.feed.PublishNotification(r.Context(), *n); err != nil {
		log.Warn().Err(err).Int64("notification_id", n.ID).Msg("Failed to publish notification")
		published = false
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, PublishResponse{Record: n, Published: published})
}

// CreateAnnouncement stores a broadcast announcement and publishes it.
//
// @Summary      Create an announcement
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     AdminKey
// @Param        body  body  createAnnouncementRequest  true  "Announcement"
// @Success      201  {object}  PublishResponse
// @Failure      400  {object}  utils.ErrorResponse  "Validation failed"
// @Failure      403  {object}  utils.ErrorResponse  "Invalid admin key"
// @Router       /api/v1/admin/announcements [post]
func (h *AdminHandler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req createAnnouncementRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	a := &models.Announcement{
		Title:   req.Title,
		Message: req.Message,
		Icon:    req.Icon,
		Color:   req.Color,
	}
	if err := h.store.InsertAnnouncement(r.Context(), a); err != nil {
		log.Error().Err(err).Msg("Failed to insert announcement")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Failed to create announcement")
		return
	}

	published := true
	if err := h.feed.PublishAnnouncement(r.Context(), *a); err != nil {
		log.Warn().Err(err).Int64("announcement_id", a.ID).Msg("Failed to publish announcement")
		published = false
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, PublishResponse{Record: a, Published: published})
}
