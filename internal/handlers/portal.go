package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ieraasyl/StudentPortal/internal/models"
	"github.com/ieraasyl/StudentPortal/internal/portal"
	"github.com/ieraasyl/StudentPortal/pkg/utils"
	"github.com/rs/zerolog/log"
)

// SessionController is the part of *portal.SessionManager the API drives.
type SessionController interface {
	Snapshot() portal.SessionState
	SignIn(ctx context.Context, identifier, password string) bool
	SignOut(ctx context.Context) error
	RequestPasswordReset(ctx context.Context, identifier string) bool
	Refresh(ctx context.Context) error
}

// CourseRegistration is the selection over the mounted courses.
// *portal.Registration satisfies it.
type CourseRegistration interface {
	Courses() []models.MountedCourse
	Toggle(code string) bool
	SelectAll()
	Selected() []models.MountedCourse
	AllSelected() bool
	TotalCredits() int
}

// NotificationController is the part of *portal.NotificationManager the
// API drives.
type NotificationController interface {
	Snapshot() portal.NotificationState
	Entries() []portal.Entry
	Pending() []int64
	FetchAll(ctx context.Context) error
	MarkAsRead(ctx context.Context, id int64) error
	MarkAllAsRead(ctx context.Context) error
}

// PortalHandler serves the session, course and notification endpoints.
type PortalHandler struct {
	sessions      SessionController
	registration  CourseRegistration
	notifications NotificationController
	alerts        *AlertLog
}

// NewPortalHandler wires the managers to HTTP. alerts must be the same
// AlertLog the SessionManager reports to; sign-in and password reset use it
// to explain failures.
func NewPortalHandler(sessions SessionController, registration CourseRegistration, notifications NotificationController, alerts *AlertLog) *PortalHandler {
	return &PortalHandler{
		sessions:      sessions,
		registration:  registration,
		notifications: notifications,
		alerts:        alerts,
	}
}

type signInRequest struct {
	Identifier string `json:"identifier" validate:"max=254"` // Index number or institutional email
	Password   string `json:"password" validate:"max=128"`
}

type passwordResetRequest struct {
	Identifier string `json:"identifier" validate:"max=254"`
}

// CoursesResponse is the registration view of the mounted courses.
type CoursesResponse struct {
	Courses      []models.MountedCourse `json:"courses"`
	Selected     []string               `json:"selected"`
	AllSelected  bool                   `json:"all_selected"`
	TotalCredits int                    `json:"total_credits"`
}

// NotificationsResponse is the notification snapshot plus the merged feed.
type NotificationsResponse struct {
	portal.NotificationState
	Entries []portal.Entry `json:"entries"`
	Pending []int64        `json:"pending"`
}

// Session returns the current session snapshot. Signed out is not an
// error: the snapshot simply has no user.
//
// Response:
//
//	{
//	  "data": {
//	    "user": {"id": "...", "email": "4211230001@live.gctu.edu.gh"},
//	    "profile": {"index_number": "4211230001", "program": "IT", "level": 200, ...},
//	    "mounted_courses": [{"title": "Data Structures", "code": "IT 201", "credit": "3 Credit Hours"}],
//	    "loading": false
//	  }
//	}
//
// @Summary      Current session
// @Tags         session
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse{data=portal.SessionState}
// @Router       /api/v1/session [get]
func (h *PortalHandler) Session(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithSuccess(w, r, h.sessions.Snapshot(), "")
}

// SignIn signs in with an index number or email and a password. On
// failure the reason shown to the student is returned with 401.
//
// @Summary      Sign in
// @Description  Index number or institutional email plus password
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body  signInRequest  true  "Credentials"
// @Success      200  {object}  utils.SuccessResponse{data=portal.SessionState}
// @Failure      400  {object}  utils.ErrorResponse  "Malformed body"
// @Failure      401  {object}  utils.ErrorResponse  "Sign-in rejected"
// @Failure      429  {object}  utils.ErrorResponse  "Too many requests"
// @Router       /api/v1/session/signin [post]
func (h *PortalHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	seq := h.alerts.Seq()
	if !h.sessions.SignIn(r.Context(), req.Identifier, req.Password) {
		utils.RespondWithError(w, r, http.StatusUnauthorized,
			h.alertSince(seq, "Sign-in failed", portal.AlertLoginFailed, portal.AlertLoginError))
		return
	}

	utils.RespondWithSuccess(w, r, h.sessions.Snapshot(), "Signed in")
}

// SignOut ends the session. Signing out while signed out succeeds.
//
// @Summary      Sign out
// @Tags         session
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse
// @Failure      502  {object}  utils.ErrorResponse  "Backend failure"
// @Router       /api/v1/session/signout [post]
func (h *PortalHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignOut(r.Context()); err != nil {
		log.Error().
			Err(err).
			Str("request_id", utils.GetRequestID(r.Context())).
			Msg("Sign-out failed")
		respondBackendError(w, r, err, "Failed to sign out")
		return
	}

	utils.RespondWithSuccess(w, r, nil, "Signed out")
}

// PasswordReset sends a reset email for an index number or email.
//
// @Summary      Request a password reset email
// @Tags         session
// @Accept       json
// @Produce      json
// @Param        body  body  passwordResetRequest  true  "Index number or email"
// @Success      200  {object}  utils.SuccessResponse
// @Failure      400  {object}  utils.ErrorResponse
// @Failure      429  {object}  utils.ErrorResponse  "Too many requests"
// @Router       /api/v1/session/password-reset [post]
func (h *PortalHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	seq := h.alerts.Seq()
	if !h.sessions.RequestPasswordReset(r.Context(), req.Identifier) {
		utils.RespondWithError(w, r, http.StatusBadRequest,
			h.alertSince(seq, "Password reset failed", portal.AlertResetFailed, portal.AlertResetError))
		return
	}

	utils.RespondWithSuccess(w, r, nil, h.alertSince(seq, "Password reset email sent", portal.AlertResetEmailSent))
}

// Alerts lists recent user-facing alerts, oldest first. ?since=N returns
// only alerts with a larger sequence number.
//
// @Summary      Recent alerts
// @Tags         session
// @Produce      json
// @Param        since  query  int  false  "Only alerts with a larger sequence number"
// @Success      200  {object}  utils.SuccessResponse{data=[]Alert}
// @Failure      400  {object}  utils.ErrorResponse  "Invalid since"
// @Router       /api/v1/alerts [get]
func (h *PortalHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	var since uint64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid since parameter")
			return
		}
		since = v
	}
	utils.RespondWithSuccess(w, r, h.alerts.Since(since), "")
}

// RefreshSession re-fetches the profile and mounted courses.
//
// @Summary      Reload profile and courses
// @Tags         session
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse{data=portal.SessionState}
// @Failure      401  {object}  utils.ErrorResponse  "Not signed in"
// @Failure      502  {object}  utils.ErrorResponse  "Backend failure"
// @Router       /api/v1/session/refresh [post]
func (h *PortalHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Refresh(r.Context()); err != nil {
		respondBackendError(w, r, err, "Failed to refresh profile")
		return
	}
	utils.RespondWithSuccess(w, r, h.sessions.Snapshot(), "")
}

// Courses returns the mounted courses and the current selection.
//
// @Summary      Mounted courses
// @Tags         courses
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse{data=CoursesResponse}
// @Failure      401  {object}  utils.ErrorResponse  "Not signed in"
// @Router       /api/v1/courses [get]
func (h *PortalHandler) Courses(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithSuccess(w, r, h.coursesResponse(), "")
}

// ToggleCourse flips the selection of one course. The code is the path
// segment, URL-encoded ("IT%20201").
//
// @Summary      Toggle a course selection
// @Tags         courses
// @Produce      json
// @Param        code  path  string  true  "Course code, URL-encoded"
// @Success      200  {object}  utils.SuccessResponse{data=CoursesResponse}
// @Failure      404  {object}  utils.ErrorResponse  "Course is not mounted"
// @Router       /api/v1/courses/{code}/toggle [post]
func (h *PortalHandler) ToggleCourse(w http.ResponseWriter, r *http.Request) {
	code, err := url.PathUnescape(chi.URLParam(r, "code"))
	if err != nil || code == "" {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid course code")
		return
	}

	if !h.isMounted(code) {
		utils.RespondWithError(w, r, http.StatusNotFound, "Course is not mounted")
		return
	}

	h.registration.Toggle(code)
	utils.RespondWithSuccess(w, r, h.coursesResponse(), "")
}

// SelectAllCourses selects every course, or clears the selection when
// everything is already selected.
//
// @Summary      Select or clear all courses
// @Tags         courses
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse{data=CoursesResponse}
// @Router       /api/v1/courses/select-all [post]
func (h *PortalHandler) SelectAllCourses(w http.ResponseWriter, r *http.Request) {
	h.registration.SelectAll()
	utils.RespondWithSuccess(w, r, h.coursesResponse(), "")
}

// Notifications returns the notification snapshot and the merged feed.
//
// @Summary      Notifications and announcements
// @Tags         notifications
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse{data=NotificationsResponse}
// @Failure      401  {object}  utils.ErrorResponse  "Not signed in"
// @Router       /api/v1/notifications [get]
func (h *PortalHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithSuccess(w, r, h.notificationsResponse(), "")
}

// RefreshNotifications reloads notifications and announcements.
//
// @Summary      Reload notifications
// @Tags         notifications
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse{data=NotificationsResponse}
// @Failure      502  {object}  utils.ErrorResponse  "Backend failure"
// @Failure      504  {object}  utils.ErrorResponse  "Backend timeout"
// @Router       /api/v1/notifications/refresh [post]
func (h *PortalHandler) RefreshNotifications(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.FetchAll(r.Context()); err != nil {
		respondBackendError(w, r, err, "Failed to load notifications")
		return
	}
	utils.RespondWithSuccess(w, r, h.notificationsResponse(), "")
}

// MarkAsRead marks one notification read.
//
// @Summary      Mark a notification read
// @Tags         notifications
// @Produce      json
// @Param        id  path  int  true  "Notification ID"
// @Success      200  {object}  utils.SuccessResponse{data=NotificationsResponse}
// @Failure      400  {object}  utils.ErrorResponse  "Invalid ID"
// @Failure      502  {object}  utils.ErrorResponse  "Backend failure"
// @Router       /api/v1/notifications/{id}/read [post]
func (h *PortalHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		utils.RespondWithError(w, r, http.StatusBadRequest, "Invalid notification ID")
		return
	}

	if err := h.notifications.MarkAsRead(r.Context(), id); err != nil {
		log.Warn().
			Err(err).
			Int64("notification_id", id).
			Msg("Mark as read failed")
		respondBackendError(w, r, err, "Failed to mark notification as read")
		return
	}

	utils.RespondWithSuccess(w, r, h.notificationsResponse(), "")
}

// MarkAllAsRead marks every loaded unread notification read.
//
// @Summary      Mark all notifications read
// @Tags         notifications
// @Produce      json
// @Success      200  {object}  utils.SuccessResponse{data=NotificationsResponse}
// @Failure      502  {object}  utils.ErrorResponse  "Backend failure"
// @Router       /api/v1/notifications/read-all [post]
func (h *PortalHandler) MarkAllAsRead(w http.ResponseWriter, r *http.Request) {
	if err := h.notifications.MarkAllAsRead(r.Context()); err != nil {
		respondBackendError(w, r, err, "Failed to mark notifications as read")
		return
	}
	utils.RespondWithSuccess(w, r, h.notificationsResponse(), "")
}

func (h *PortalHandler) coursesResponse() CoursesResponse {
	selected := h.registration.Selected()
	codes := make([]string, 0, len(selected))
	for _, c := range selected {
		codes = append(codes, c.Code)
	}

	courses := h.registration.Courses()
	if courses == nil {
		courses = []models.MountedCourse{}
	}

	return CoursesResponse{
		Courses:      courses,
		Selected:     codes,
		AllSelected:  h.registration.AllSelected(),
		TotalCredits: h.registration.TotalCredits(),
	}
}

func (h *PortalHandler) isMounted(code string) bool {
	for _, c := range h.registration.Courses() {
		if c.Code == code {
			return true
		}
	}
	return false
}

func (h *PortalHandler) notificationsResponse() NotificationsResponse {
	return NotificationsResponse{
		NotificationState: h.notifications.Snapshot(),
		Entries:           h.notifications.Entries(),
		Pending:           h.notifications.Pending(),
	}
}

// alertSince returns the message of the first alert raised after seq with
// one of titles. Alerts of other flows running at the same time are skipped.
func (h *PortalHandler) alertSince(seq uint64, fallback string, titles ...string) string {
	for _, a := range h.alerts.Since(seq) {
		if slices.Contains(titles, a.Title) {
			return a.Message
		}
	}
	return fallback
}

// respondBackendError maps a manager error to a status code. Failures of
// the hosted backend are 502, or 504 when the call timed out.
func respondBackendError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, portal.ErrNoUser):
		utils.RespondWithError(w, r, http.StatusUnauthorized, "Not signed in")
	case errors.Is(err, context.DeadlineExceeded):
		utils.RespondWithError(w, r, http.StatusGatewayTimeout, message)
	default:
		utils.RespondWithError(w, r, http.StatusBadGateway, message)
	}
}
